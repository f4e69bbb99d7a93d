// Package pipeline rewrites chat messages before they reach the provider and
// post-processes the text that comes back, whole or streamed.
package pipeline

import (
	"strings"

	"go.uber.org/zap"

	"github.com/rcliao/persona-proxy/internal/config"
	"github.com/rcliao/persona-proxy/internal/lore"
	"github.com/rcliao/persona-proxy/internal/model"
	"github.com/rcliao/persona-proxy/internal/rules"
	"github.com/rcliao/persona-proxy/internal/textproc"
)

// Messages is the request-side transform.
type Messages struct {
	lore   *lore.Store
	roller textproc.Roller
	log    *zap.Logger
}

// NewMessages creates the message transform. store may be nil, in which case
// user messages pass through. roller decides the autoplot and spice rolls; a
// nil roller never triggers them.
func NewMessages(store *lore.Store, roller textproc.Roller, log *zap.Logger) *Messages {
	if roller == nil {
		roller = textproc.FixedRoller(false)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Messages{lore: store, roller: roller, log: log}
}

// Transform returns a new message list of the same length and role order.
// User content gets lorebook context, system content gets the enabled
// enhancement fragments prepended, everything else passes through.
func (m *Messages) Transform(cfg config.Settings, in []model.ChatMessage) []model.ChatMessage {
	out := make([]model.ChatMessage, len(in))
	var enhancement string
	var rolled bool

	for i, msg := range in {
		out[i] = msg
		switch msg.Role {
		case model.RoleUser:
			if m.lore != nil {
				out[i].Content = m.lore.InjectContext(msg.Content, "", cfg.Lorebook.Enabled)
			}
		case model.RoleSystem:
			if !rolled {
				enhancement = strings.Join(m.SystemFragments(cfg), "\n\n")
				rolled = true
			}
			if enhancement != "" {
				out[i].Content = enhancement + "\n\n" + msg.Content
			}
		}
	}
	return out
}

// SystemFragments lists the enabled system enhancements in injection order:
// jailbreak, medieval, OOC note, force-thinking, then the chance-based plot
// and spice notes. Chance rolls happen on every call.
func (m *Messages) SystemFragments(cfg config.Settings) []string {
	c := cfg.Content
	var frags []string

	if c.EnableJailbreak {
		if jb := rules.JailbreakText(c.BypassLevel); jb != "" {
			frags = append(frags, jb)
		}
	}
	if c.EnableMedievalMode {
		frags = append(frags, rules.MedievalText())
	}
	if c.EnableOOCInjection {
		if strings.TrimSpace(c.CustomOOCText) != "" {
			frags = append(frags, c.CustomOOCText)
		} else {
			frags = append(frags, rules.OOCTemplate(rules.OOCStandard))
		}
	}
	if c.EnableForceThinking {
		frags = append(frags, rules.ForceThinkingText())
	}
	if c.EnableAutoplot && m.roller.Roll(c.AutoplotChance) {
		m.log.Debug("autoplot triggered", zap.Int("chance", c.AutoplotChance))
		frags = append(frags, rules.OOCTemplate(rules.OOCPlot))
	}
	if c.EnableBetterSpice && m.roller.Roll(c.SpiceChance) {
		m.log.Debug("spice triggered", zap.Int("chance", c.SpiceChance))
		frags = append(frags, rules.OOCTemplate(rules.OOCSpicy))
	}
	return frags
}
