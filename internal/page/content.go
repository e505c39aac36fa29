package page

import (
	"context"
	"strings"
)

// Content is the page text and structure consulted by the context guard and
// guided discovery. It is read fresh for every check.
type Content struct {
	URL              string   `json:"url"`
	Title            string   `json:"title"`
	Headings         []string `json:"headings,omitempty"`
	BodyText         string   `json:"bodyText,omitempty"`
	VisibleInputs    int      `json:"visibleInputs"`
	HasPasswordField bool     `json:"hasPasswordField"`
	HasFileInput     bool     `json:"hasFileInput"`
	RepeatedBlocks   int      `json:"repeatedBlocks"`
	DialogText       string   `json:"dialogText,omitempty"`
	DisabledAdvance  bool     `json:"disabledAdvance"`
	NavigationLinks  []string `json:"navigationLinks,omitempty"`
	HasNavigation    bool     `json:"hasNavigation"`
}

// SignalText joins title, headings and body prefix for pattern matching.
func (c Content) SignalText() string {
	parts := make([]string, 0, len(c.Headings)+2)
	parts = append(parts, c.Title)
	parts = append(parts, c.Headings...)
	parts = append(parts, c.BodyText)
	return strings.ToLower(strings.Join(parts, " "))
}

// State is the fingerprint compared before and after a dispatch.
type State struct {
	URL        string `json:"url"`
	Title      string `json:"title"`
	TopHeading string `json:"topHeading,omitempty"`
	PanelCount int    `json:"panelCount"`
	ScrollY    int    `json:"scrollY"`
}

// Reader exposes page content and state fingerprints.
type Reader interface {
	Content(ctx context.Context) (Content, error)
	State(ctx context.Context) (State, error)
}
