package handler

import (
	"encoding/base64"
	"time"

	"signetry/internal/envelope/models"
	"signetry/internal/envelope/service"
	"signetry/internal/provider"
	dErrors "signetry/pkg/domain-errors"
)

type recipientRequest struct {
	Email             string `json:"email"`
	Name              string `json:"name"`
	Role              string `json:"role"`
	RoutingOrder      int    `json:"routingOrder"`
	SignatureRequired bool   `json:"signatureRequired"`
	InitialsRequired  bool   `json:"initialsRequired"`
	DateRequired      bool   `json:"dateRequired"`
}

type documentRequest struct {
	Name          string `json:"name"`
	MimeType      string `json:"mimeType"`
	ContentBase64 string `json:"contentBase64"`
}

type createEnvelopeRequest struct {
	Name           string             `json:"name"`
	DocumentType   string             `json:"documentType"`
	SubjectID      *string            `json:"subjectId,omitempty"`
	Message        string             `json:"message"`
	ExpirationDays int                `json:"expirationDays"`
	TemplateRef    string             `json:"templateRef,omitempty"`
	Documents      []documentRequest  `json:"documents,omitempty"`
	Recipients     []recipientRequest `json:"recipients"`
}

func (r createEnvelopeRequest) toParams() (service.CreateParams, error) {
	params := service.CreateParams{
		Name:           r.Name,
		DocumentType:   models.DocumentType(r.DocumentType),
		SubjectID:      r.SubjectID,
		Message:        r.Message,
		ExpirationDays: r.ExpirationDays,
		TemplateRef:    r.TemplateRef,
	}
	for _, d := range r.Documents {
		content, err := base64.StdEncoding.DecodeString(d.ContentBase64)
		if err != nil {
			return service.CreateParams{}, dErrors.Newf(dErrors.CodeValidation,
				"document %q content is not valid base64", d.Name)
		}
		params.Documents = append(params.Documents, service.DocumentInput{
			Name: d.Name, MimeType: d.MimeType, Content: content,
		})
	}
	for _, rec := range r.Recipients {
		params.Recipients = append(params.Recipients, service.RecipientInput{
			Email:             rec.Email,
			Name:              rec.Name,
			Role:              models.RecipientRole(rec.Role),
			RoutingOrder:      rec.RoutingOrder,
			SignatureRequired: rec.SignatureRequired,
			InitialsRequired:  rec.InitialsRequired,
			DateRequired:      rec.DateRequired,
		})
	}
	return params, nil
}

type recipientResponse struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	Role         string     `json:"role"`
	RoutingOrder int        `json:"routingOrder"`
	Status       string     `json:"status"`
	SignedAt     *time.Time `json:"signedAt,omitempty"`
}

type documentResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	IsSigned bool   `json:"isSigned"`
}

type envelopeResponse struct {
	ID                 string              `json:"id"`
	ProviderEnvelopeID *string             `json:"providerEnvelopeId,omitempty"`
	Name               string              `json:"name"`
	DocumentType       string              `json:"documentType"`
	Status             string              `json:"status"`
	CreatedByID        string              `json:"createdById"`
	SubjectID          *string             `json:"subjectId,omitempty"`
	Message            string              `json:"message,omitempty"`
	ExpiresAt          time.Time           `json:"expiresAt"`
	SentAt             *time.Time          `json:"sentAt,omitempty"`
	CompletedAt        *time.Time          `json:"completedAt,omitempty"`
	DeclinedAt         *time.Time          `json:"declinedAt,omitempty"`
	VoidedAt           *time.Time          `json:"voidedAt,omitempty"`
	VoidedReason       *string             `json:"voidedReason,omitempty"`
	DeclinedReason     *string             `json:"declinedReason,omitempty"`
	Recipients         []recipientResponse `json:"recipients"`
	Documents          []documentResponse  `json:"documents"`
	CreatedAt          time.Time           `json:"createdAt"`
	UpdatedAt          time.Time           `json:"updatedAt"`
}

func toEnvelopeResponse(env *models.Envelope) envelopeResponse {
	resp := envelopeResponse{
		ID:                 env.ID.String(),
		ProviderEnvelopeID: env.ProviderEnvelopeID,
		Name:               env.Name,
		DocumentType:       string(env.DocumentType),
		Status:             string(env.Status),
		CreatedByID:        env.CreatedByID,
		SubjectID:          env.SubjectID,
		Message:            env.Message,
		ExpiresAt:          env.ExpiresAt,
		SentAt:             env.SentAt,
		CompletedAt:        env.CompletedAt,
		DeclinedAt:         env.DeclinedAt,
		VoidedAt:           env.VoidedAt,
		VoidedReason:       env.VoidedReason,
		DeclinedReason:     env.DeclinedReason,
		Recipients:         []recipientResponse{},
		Documents:          []documentResponse{},
		CreatedAt:          env.CreatedAt,
		UpdatedAt:          env.UpdatedAt,
	}
	for _, r := range env.Recipients {
		resp.Recipients = append(resp.Recipients, recipientResponse{
			ID:           r.ID.String(),
			Email:        r.Email,
			Name:         r.Name,
			Role:         string(r.Role),
			RoutingOrder: r.RoutingOrder,
			Status:       string(r.Status),
			SignedAt:     r.SignedAt,
		})
	}
	for _, d := range env.Documents {
		resp.Documents = append(resp.Documents, documentResponse{
			ID:       d.ID.String(),
			Name:     d.Name,
			MimeType: d.MimeType,
			Size:     d.Size,
			IsSigned: d.IsSigned,
		})
	}
	return resp
}

type bulkRequest struct {
	Envelopes []createEnvelopeRequest `json:"envelopes"`
}

type bulkItemResponse struct {
	Envelope *envelopeResponse `json:"envelope,omitempty"`
	Error    *string           `json:"error,omitempty"`
}

type voidRequest struct {
	Reason string `json:"reason"`
}

type resendRequest struct {
	RecipientID *string `json:"recipientId,omitempty"`
}

type signingURLRequest struct {
	ReturnURL string `json:"returnUrl"`
}

type signingURLResponse struct {
	URL string `json:"url"`
}

type templateResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func toTemplateResponses(templates []provider.Template) []templateResponse {
	out := make([]templateResponse, 0, len(templates))
	for _, t := range templates {
		out = append(out, templateResponse{ID: t.ID, Name: t.Name, Description: t.Description})
	}
	return out
}
