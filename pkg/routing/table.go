// Package routing maps the dialed ACS number to the agent destination,
// greeting blurb and knowledge base configuration for that line. The tables
// are static; a missing mapping is logged and handled with defaults, never
// treated as fatal.
package routing

import (
	"go.uber.org/zap"

	"github.com/troikatech/voice-orchestrator/pkg/logger"
)

// DefaultBlurb is used when a dialed number has no configured blurb.
const DefaultBlurb = "Cricket Expert"

// KnowledgeBase is the per-line search configuration.
type KnowledgeBase struct {
	Index                 string
	SemanticConfiguration string
}

type entry struct {
	agentNumber   string
	blurb         string
	knowledgeBase *KnowledgeBase
}

type Table struct {
	entries map[string]entry
	log     *zap.Logger
}

func NewTable(log *zap.Logger) *Table {
	return &Table{
		entries: map[string]entry{
			"+1234567890": {
				agentNumber: "+1234567890",
				blurb:       "Dummy Service",
				knowledgeBase: &KnowledgeBase{
					Index:                 "dummy-index",
					SemanticConfiguration: "dummy-semantic-config",
				},
			},
		},
		log: log,
	}
}

// AgentNumber returns the transfer destination for the dialed number, or ""
// when no agent is configured.
func (t *Table) AgentNumber(dialedNumber string) string {
	e, ok := t.entries[dialedNumber]
	if !ok {
		t.log.Error("no agent mapping for dialed number",
			logger.MaskPhone("dialed_number", dialedNumber))
		return ""
	}
	return e.agentNumber
}

// Blurb returns the greeting blurb for the dialed number, falling back to
// DefaultBlurb.
func (t *Table) Blurb(dialedNumber string) string {
	e, ok := t.entries[dialedNumber]
	if !ok || e.blurb == "" {
		t.log.Error("no blurb mapping for dialed number",
			logger.MaskPhone("dialed_number", dialedNumber))
		return DefaultBlurb
	}
	return e.blurb
}

// KnowledgeBaseFor returns the search configuration for the dialed number,
// or nil when the line has no knowledge base.
func (t *Table) KnowledgeBaseFor(dialedNumber string) *KnowledgeBase {
	e, ok := t.entries[dialedNumber]
	if !ok || e.knowledgeBase == nil {
		t.log.Error("no knowledge base mapping for dialed number",
			logger.MaskPhone("dialed_number", dialedNumber))
		return nil
	}
	kb := *e.knowledgeBase
	return &kb
}
