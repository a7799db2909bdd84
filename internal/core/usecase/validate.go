package usecase

import (
	"fmt"
	"mime"
	"strings"

	"github.com/kirillkom/veriscan/internal/core/domain"
)

type Validator struct {
	policy domain.UploadPolicy
}

func NewValidator(policy domain.UploadPolicy) *Validator {
	def := domain.DefaultUploadPolicy()
	if policy.MaxSizeBytes <= 0 {
		policy.MaxSizeBytes = def.MaxSizeBytes
	}
	if len(policy.AllowedMimePrefixes) == 0 {
		policy.AllowedMimePrefixes = def.AllowedMimePrefixes
	}
	return &Validator{policy: policy}
}

func (v *Validator) Policy() domain.UploadPolicy {
	return v.policy
}

// Validate is pure: the type is checked before the size, and nothing is sent.
func (v *Validator) Validate(candidate domain.UploadCandidate) (domain.UploadCandidate, error) {
	if strings.TrimSpace(candidate.Name) == "" || candidate.SizeBytes <= 0 {
		return domain.UploadCandidate{}, &domain.ValidationError{
			Reason: domain.ReasonEmpty,
			Detail: "no file selected",
		}
	}

	mediaType := normalizeMimeType(candidate.MimeType)
	if !v.allowedType(mediaType) {
		return domain.UploadCandidate{}, &domain.ValidationError{
			Reason: domain.ReasonInvalidType,
			Detail: fmt.Sprintf("%q is not an accepted video type", candidate.MimeType),
		}
	}

	if candidate.SizeBytes > v.policy.MaxSizeBytes {
		return domain.UploadCandidate{}, &domain.ValidationError{
			Reason: domain.ReasonTooLarge,
			Detail: fmt.Sprintf("%d bytes exceeds limit of %d bytes", candidate.SizeBytes, v.policy.MaxSizeBytes),
		}
	}

	candidate.MimeType = mediaType
	return candidate, nil
}

func (v *Validator) allowedType(mediaType string) bool {
	if mediaType == "" {
		return false
	}
	for _, prefix := range v.policy.AllowedMimePrefixes {
		prefix = strings.ToLower(strings.TrimSpace(prefix))
		if prefix != "" && strings.HasPrefix(mediaType, prefix) {
			return true
		}
	}
	return false
}

func normalizeMimeType(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if mediaType, _, err := mime.ParseMediaType(raw); err == nil {
		return strings.ToLower(mediaType)
	}
	return strings.ToLower(raw)
}
