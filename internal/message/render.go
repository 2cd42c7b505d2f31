package message

import (
	"fmt"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/ignite/broadcast-engine/internal/domain"
)

// Renderer personalizes message text with Liquid templates. Parsed
// templates are cached by source text.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

// NewRenderer creates a Renderer with the default filter set.
func NewRenderer() *Renderer {
	engine := liquid.NewEngine()

	// {{ first_name | default: "amigo" }}
	engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})

	return &Renderer{engine: engine}
}

// Render executes text against bindings. Text without template markup is
// returned as-is without parsing.
func (r *Renderer) Render(text string, bindings map[string]interface{}) (string, error) {
	if !strings.Contains(text, "{{") && !strings.Contains(text, "{%") {
		return text, nil
	}

	var tpl *liquid.Template
	if cached, ok := r.cache.Load(text); ok {
		tpl = cached.(*liquid.Template)
	} else {
		parsed, err := r.engine.ParseString(text)
		if err != nil {
			return "", fmt.Errorf("parse template: %w", err)
		}
		r.cache.Store(text, parsed)
		tpl = parsed
	}

	out, err := tpl.RenderString(bindings)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return out, nil
}

// ContactBindings exposes the contact fields usable in templates. A nil
// contact still binds recipient_id.
func ContactBindings(recipientID string, c *domain.Contact) map[string]interface{} {
	b := map[string]interface{}{
		"recipient_id": recipientID,
		"first_name":   "",
		"username":     "",
	}
	if c != nil {
		b["first_name"] = c.FirstName
		b["username"] = c.Username
	}
	return b
}
