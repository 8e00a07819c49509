package types

import (
	"time"

	"freespace-backend/internal/session"
)

type User struct {
	Name string `json:"name"`
}

// StartRequest opens a conversation. Every field is optional; personas
// ignore the ones they do not use.
type StartRequest struct {
	SessionID       string `json:"sessionId,omitempty"`
	Name            string `json:"name,omitempty"`
	Happiness       *int   `json:"happiness,omitempty"`
	StressLevel     string `json:"stressLevel,omitempty"`
	StressLevelAlt  string `json:"stress_level,omitempty"`
	WorkEnvironment string `json:"workEnvironment,omitempty"`
	Language        string `json:"language,omitempty"`
	User            *User  `json:"user,omitempty"`
}

// DisplayName prefers the top-level name over user.name.
func (r StartRequest) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	if r.User != nil {
		return r.User.Name
	}
	return ""
}

func (r StartRequest) Stress() string {
	if r.StressLevel != "" {
		return r.StressLevel
	}
	return r.StressLevelAlt
}

type StartResponse struct {
	Success      bool            `json:"success"`
	Message      string          `json:"message"`
	Generated    bool            `json:"generated"`
	SessionID    string          `json:"sessionId"`
	SessionStart time.Time       `json:"sessionStart"`
	Persona      string          `json:"persona"`
	Context      session.Context `json:"context"`
}

type RespondRequest struct {
	SessionID   string `json:"sessionId,omitempty"`
	Message     string `json:"message"`
	EnableVoice *bool  `json:"enableVoice,omitempty"`
	Language    string `json:"language,omitempty"`
}

// VoiceEnabled defaults to true when the field is absent.
func (r RespondRequest) VoiceEnabled() bool {
	return r.EnableVoice == nil || *r.EnableVoice
}

type RespondResponse struct {
	Success           bool             `json:"success"`
	Response          string           `json:"response"`
	TaskType          string           `json:"taskType,omitempty"`
	ConversationCount int              `json:"conversationCount"`
	Context           *session.Context `json:"context,omitempty"`
	HasVoice          bool             `json:"hasVoice"`
	VoiceResponse     string           `json:"voiceResponse,omitempty"`
	VoiceFormat       string           `json:"voiceFormat,omitempty"`
	UseBrowserTTS     bool             `json:"useBrowserTts"`
	Timestamp         time.Time        `json:"timestamp"`
	SessionID         string           `json:"sessionId"`
	Error             string           `json:"error,omitempty"`
}

type ListenResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	IsError   bool   `json:"isError"`
	SessionID string `json:"sessionId,omitempty"`
}

type SpeakRequest struct {
	Text string `json:"text"`
}

type SpeakResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"jobId"`
	Status  string `json:"status"`
}

type SpeakJobResponse struct {
	Success       bool   `json:"success"`
	JobID         string `json:"jobId"`
	Status        string `json:"status"`
	HasVoice      bool   `json:"hasVoice"`
	VoiceResponse string `json:"voiceResponse,omitempty"`
	VoiceFormat   string `json:"voiceFormat,omitempty"`
	Engine        string `json:"engine,omitempty"`
	UseBrowserTTS bool   `json:"useBrowserTts"`
}

type ResetResponse struct {
	Success      bool            `json:"success"`
	Message      string          `json:"message"`
	SessionID    string          `json:"sessionId"`
	NewSessionID time.Time       `json:"newSessionId"`
	Context      session.Context `json:"context"`
}

type HistoryResponse struct {
	Success   bool               `json:"success"`
	SessionID string             `json:"sessionId,omitempty"`
	History   []session.Exchange `json:"history"`
	Context   session.Context    `json:"context"`
	Total     int                `json:"total"`
}

type StatusResponse struct {
	Success           bool            `json:"success"`
	SessionID         string          `json:"sessionId,omitempty"`
	Persona           string          `json:"persona"`
	Context           session.Context `json:"context"`
	ConversationCount int             `json:"conversationCount"`
	SessionDuration   string          `json:"sessionDuration"`
	DurationSeconds   float64         `json:"sessionDurationSeconds"`
	State             string          `json:"state"`
}

type PersonaInfo struct {
	Key        string   `json:"key"`
	Aliases    []string `json:"aliases,omitempty"`
	Name       string   `json:"name"`
	Audience   string   `json:"audience"`
	Categories []string `json:"categories"`
}

type PersonasResponse struct {
	Personas []PersonaInfo `json:"personas"`
}

type HealthResponse struct {
	Status         string   `json:"status"`
	Generator      string   `json:"generator"`
	GeneratorReady bool     `json:"generatorReady"`
	SpeechInput    bool     `json:"speechInput"`
	TTSEngine      string   `json:"ttsEngine"`
	PendingSpeech  int      `json:"pendingSpeech"`
	Sessions       int      `json:"sessions"`
	Personas       []string `json:"personas"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}
