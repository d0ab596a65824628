// Package search serializes ordered key:value filters into the single
// query string the spans-samples endpoint accepts.
package search

import (
	"strings"

	"github.com/spanlab/span-sample-gateway/internal/core/model"
)

// Builder accumulates filter tokens in insertion order.
type Builder struct {
	tokens []model.FilterToken
}

func NewBuilder(tokens ...model.FilterToken) *Builder {
	return &Builder{tokens: tokens}
}

// Add appends a key:value filter.
func (b *Builder) Add(key, value string) *Builder {
	v := value
	b.tokens = append(b.tokens, model.FilterToken{Key: key, Value: &v})
	return b
}

// AddOptional appends a filter whose value may be absent. Absent values
// are dropped at serialization time.
func (b *Builder) AddOptional(key string, value *string) *Builder {
	b.tokens = append(b.tokens, model.FilterToken{Key: key, Value: value})
	return b
}

func (b *Builder) Tokens() []model.FilterToken {
	return b.tokens
}

// String joins the present tokens as "key:value" separated by single
// spaces, skipping tokens without a value.
func (b *Builder) String() string {
	return Format(b.tokens)
}

// Format serializes filter tokens without constructing a Builder.
func Format(tokens []model.FilterToken) string {
	var sb strings.Builder
	for _, tok := range tokens {
		if tok.Value == nil || tok.Key == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(tok.Key)
		sb.WriteByte(':')
		sb.WriteString(quoteIfNeeded(*tok.Value))
	}
	return sb.String()
}

func quoteIfNeeded(v string) string {
	if strings.ContainsAny(v, " \t") {
		return `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
	}
	return v
}
