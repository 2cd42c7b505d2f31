package message

import (
	"net/url"
	"path"
	"strings"

	"github.com/ignite/broadcast-engine/internal/domain"
)

var declaredKinds = map[string]domain.MediaKind{
	"photo":     domain.MediaPhoto,
	"image":     domain.MediaPhoto,
	"video":     domain.MediaVideo,
	"audio":     domain.MediaAudio,
	"voice":     domain.MediaAudio,
	"document":  domain.MediaDocument,
	"file":      domain.MediaDocument,
	"animation": domain.MediaAnimation,
	"gif":       domain.MediaAnimation,
}

var extensionKinds = map[string]domain.MediaKind{
	".jpg":  domain.MediaPhoto,
	".jpeg": domain.MediaPhoto,
	".png":  domain.MediaPhoto,
	".webp": domain.MediaPhoto,
	".mp4":  domain.MediaVideo,
	".mov":  domain.MediaVideo,
	".webm": domain.MediaVideo,
	".mkv":  domain.MediaVideo,
	".mp3":  domain.MediaAudio,
	".ogg":  domain.MediaAudio,
	".oga":  domain.MediaAudio,
	".m4a":  domain.MediaAudio,
	".wav":  domain.MediaAudio,
	".gif":  domain.MediaAnimation,
	".pdf":  domain.MediaDocument,
	".zip":  domain.MediaDocument,
}

// InferMediaKind resolves the effective media kind. The declared type wins
// when recognised; otherwise the URL's file extension decides, and anything
// still unknown is sent as a document.
func InferMediaKind(m *domain.Media) domain.MediaKind {
	if m == nil || strings.TrimSpace(m.URL) == "" {
		return domain.MediaNone
	}
	if k, ok := declaredKinds[strings.ToLower(strings.TrimSpace(m.DeclaredType))]; ok {
		return k
	}
	if k, ok := extensionKinds[urlExtension(m.URL)]; ok {
		return k
	}
	return domain.MediaDocument
}

func urlExtension(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		p = u.Path
	}
	return strings.ToLower(path.Ext(p))
}

// CanFallbackToDocument reports whether a failed send of this kind is
// retried once through the generic document method.
func CanFallbackToDocument(k domain.MediaKind) bool {
	return k == domain.MediaPhoto || k == domain.MediaVideo
}
