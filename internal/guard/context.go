// Package guard decides whether the live page still fits the plan. It
// classifies the page into an archetype, detects gates that need a human,
// and filters speculative assistant text in autonomous mode. Every check is
// recomputed from fresh page content.
package guard

import (
	"regexp"
	"strings"

	"groundwork-mcp-server/internal/page"
	"groundwork-mcp-server/internal/roadmap"
)

// PageType is a page archetype.
type PageType string

const (
	AuthLogin        PageType = "AUTH_LOGIN"
	AuthVerification PageType = "AUTH_VERIFICATION"
	UploadFlow       PageType = "UPLOAD_FLOW"
	Settings         PageType = "SETTINGS"
	Dashboard        PageType = "DASHBOARD"
	FormEntry        PageType = "FORM_ENTRY"
	ContentBrowse    PageType = "CONTENT_BROWSE"
	Unknown          PageType = "UNKNOWN"
)

const (
	formInputThreshold   = 3
	browseBlockThreshold = 4
)

var (
	verificationPattern = regexp.MustCompile(`(?i)\b(verify your|verification code|verify (it'?s|that it'?s) you|one[- ]time (pass)?code|\d[- ]digit code|\botp\b|two[- ]factor|2fa|authentication code|security code|enter (the )?code)`)
	loginPattern        = regexp.MustCompile(`(?i)\b(sign[- ]?in|log[- ]?in|password|username)\b`)
	uploadPattern       = regexp.MustCompile(`(?i)(drag (and|&) drop|drop (your )?files?|upload (a |your )?files?)`)
	settingsPattern     = regexp.MustCompile(`(?i)\b(settings|preferences)\b`)
	dashboardPattern    = regexp.MustCompile(`(?i)\b(dashboard|overview)\b`)
	confirmPattern      = regexp.MustCompile(`(?i)(are you sure|please confirm|confirm (your|this|the)|do you want to (continue|proceed|leave))`)
	multiStepPattern    = regexp.MustCompile(`(?i)\bstep\s+\d+\s+(of|/)\s+\d+\b`)
)

// ClassifyPageType assigns the first matching archetype.
func ClassifyPageType(c page.Content) PageType {
	text := c.SignalText()
	switch {
	case verificationPattern.MatchString(text):
		return AuthVerification
	case c.HasPasswordField && loginPattern.MatchString(text):
		return AuthLogin
	case c.HasFileInput || uploadPattern.MatchString(text):
		return UploadFlow
	case settingsPattern.MatchString(text):
		return Settings
	case dashboardPattern.MatchString(text):
		return Dashboard
	case c.VisibleInputs > formInputThreshold:
		return FormEntry
	case c.RepeatedBlocks >= browseBlockThreshold:
		return ContentBrowse
	}
	return Unknown
}

// gateKeywords lists the words a step uses when it expects to handle the gate itself.
var gateKeywords = map[PageType][]string{
	AuthLogin:        {"login", "log in", "sign in", "signin", "password", "username", "email", "credential"},
	AuthVerification: {"verif", "code", "otp", "2fa", "two-factor", "two factor", "authenticat"},
	UploadFlow:       {"upload", "file", "attach", "drag", "drop", "browse"},
}

// Mismatch reports that the page is a gate the step did not expect.
type Mismatch struct {
	Detected bool     `json:"detected"`
	PageType PageType `json:"pageType"`
	Reason   string   `json:"reason,omitempty"`
}

// CheckContextMismatch flags authentication and upload pages the step does
// not mention. Other archetypes, including UNKNOWN, never mismatch.
func CheckContextMismatch(c page.Content, step roadmap.Step) Mismatch {
	pt := ClassifyPageType(c)
	keywords, isGate := gateKeywords[pt]
	if !isGate {
		return Mismatch{PageType: pt}
	}
	desc := strings.ToLower(strings.Join([]string{step.Action, step.TargetHint, step.Reasoning}, " "))
	for _, k := range keywords {
		if strings.Contains(desc, k) {
			return Mismatch{PageType: pt}
		}
	}
	return Mismatch{
		Detected: true,
		PageType: pt,
		Reason:   mismatchReason(pt),
	}
}

func mismatchReason(pt PageType) string {
	switch pt {
	case AuthLogin:
		return "The page is asking you to sign in, which the plan did not expect. Please sign in yourself, then ask me to continue."
	case AuthVerification:
		return "The page is asking for a verification step, which the plan did not expect. Please complete it yourself, then ask me to continue."
	case UploadFlow:
		return "The page is waiting for a file upload, which the plan did not expect. Please choose the file yourself, then ask me to continue."
	}
	return ""
}

// GateType names a page state that needs manual handling.
type GateType string

const (
	GateVerification GateType = "VERIFICATION"
	GateConfirmation GateType = "CONFIRMATION"
	GateMultiStep    GateType = "MULTI_STEP"
	GateLocked       GateType = "GATE_LOCKED"
)

// Gate is the result of DetectRequiredGate.
type Gate struct {
	Detected bool     `json:"detected"`
	Type     GateType `json:"type,omitempty"`
	Evidence string   `json:"evidence,omitempty"`
	Message  string   `json:"message,omitempty"`
}

// DetectRequiredGate flags pages that demand manual intervention.
func DetectRequiredGate(c page.Content) Gate {
	text := c.SignalText()
	if m := verificationPattern.FindString(text); m != "" {
		return gate(GateVerification, m, "This page needs a verification code. Please enter it yourself; I will not do this for you.")
	}
	if m := confirmPattern.FindString(c.DialogText + " " + text); m != "" {
		return gate(GateConfirmation, m, "The page is asking for a confirmation. Please review it and decide yourself.")
	}
	if m := multiStepPattern.FindString(text); m != "" {
		return gate(GateMultiStep, m, "This is a multi-step process. Please review each step yourself before moving on.")
	}
	if c.DisabledAdvance {
		return gate(GateLocked, "disabled next/continue control", "The next step is locked until the page's requirements are met. Please complete them yourself.")
	}
	return Gate{}
}

func gate(t GateType, evidence, msg string) Gate {
	return Gate{Detected: true, Type: t, Evidence: strings.TrimSpace(evidence), Message: msg}
}
