package session

import (
	"time"

	"nanostyle-server/modules/intake"
)

// Suggestions - 미리 준비된 편집 프롬프트
var Suggestions = []string{
	"Studio background",
	"Add dark sunglasses",
	"Vintage style",
	"Cinematic lighting",
}

type ImageView struct {
	PreviewURL  string `json:"previewUrl"`
	ContentType string `json:"contentType"`
	FileName    string `json:"fileName"`
	Size        int    `json:"size"`
}

// View - 클라이언트에 내려주는 세션 스냅샷
type View struct {
	ID          string     `json:"id"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	Result      string     `json:"result,omitempty"`
	EditPrompt  string     `json:"editPrompt"`
	Person      *ImageView `json:"person"`
	Garment     *ImageView `json:"garment"`
	CanGenerate bool       `json:"canGenerate"`
	CanEdit     bool       `json:"canEdit"`
	Suggestions []string   `json:"suggestions"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func newView(id string, s State, createdAt, updatedAt time.Time) View {
	return View{
		ID:          id,
		Status:      s.Status,
		Error:       s.Error,
		Result:      s.Result,
		EditPrompt:  s.EditPrompt,
		Person:      imageView(s.Person),
		Garment:     imageView(s.Garment),
		CanGenerate: s.Ready(ActionGenerate) == nil,
		CanEdit:     s.Ready(ActionEdit) == nil,
		Suggestions: Suggestions,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}
}

func imageView(rec *intake.ImageRecord) *ImageView {
	if rec == nil {
		return nil
	}
	return &ImageView{
		PreviewURL:  rec.PreviewHandle,
		ContentType: rec.ContentType,
		FileName:    rec.FileName,
		Size:        len(rec.RawFile),
	}
}
