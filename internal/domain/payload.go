package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EntityRef points at the domain entity a job produces or updates
type EntityRef struct {
	Type string
	ID   string
}

// Payload is the closed set of job payloads. Only types in this package implement it.
type Payload interface {
	JobType() JobType
	OwnerID() string
	Entity() EntityRef
	validate() error
}

// ScriptPayload drives script writing for a podcast
type ScriptPayload struct {
	UserID      string   `json:"userId"`
	PodcastID   string   `json:"podcastId"`
	DocumentIDs []string `json:"documentIds,omitempty"`
	Prompt      string   `json:"prompt,omitempty"`
}

// AudioPayload drives text-to-speech for a podcast script
type AudioPayload struct {
	UserID    string `json:"userId"`
	PodcastID string `json:"podcastId"`
}

// ImagePayload drives cover image synthesis for a podcast
type ImagePayload struct {
	UserID    string `json:"userId"`
	PodcastID string `json:"podcastId"`
	Prompt    string `json:"prompt,omitempty"`
}

// VoiceoverPayload drives voiceover synthesis
type VoiceoverPayload struct {
	UserID      string `json:"userId"`
	VoiceoverID string `json:"voiceoverId"`
}

// ProcessURLPayload drives scraping a URL into a document
type ProcessURLPayload struct {
	UserID     string `json:"userId"`
	DocumentID string `json:"documentId"`
	URL        string `json:"url"`
}

func (p *ScriptPayload) JobType() JobType     { return JobTypeGenerateScript }
func (p *AudioPayload) JobType() JobType      { return JobTypeGenerateAudio }
func (p *ImagePayload) JobType() JobType      { return JobTypeGenerateImage }
func (p *VoiceoverPayload) JobType() JobType  { return JobTypeGenerateVoiceover }
func (p *ProcessURLPayload) JobType() JobType { return JobTypeProcessURL }

func (p *ScriptPayload) OwnerID() string     { return p.UserID }
func (p *AudioPayload) OwnerID() string      { return p.UserID }
func (p *ImagePayload) OwnerID() string      { return p.UserID }
func (p *VoiceoverPayload) OwnerID() string  { return p.UserID }
func (p *ProcessURLPayload) OwnerID() string { return p.UserID }

func (p *ScriptPayload) Entity() EntityRef { return EntityRef{Type: EntityPodcast, ID: p.PodcastID} }
func (p *AudioPayload) Entity() EntityRef  { return EntityRef{Type: EntityPodcast, ID: p.PodcastID} }
func (p *ImagePayload) Entity() EntityRef  { return EntityRef{Type: EntityPodcast, ID: p.PodcastID} }
func (p *VoiceoverPayload) Entity() EntityRef {
	return EntityRef{Type: EntityVoiceover, ID: p.VoiceoverID}
}
func (p *ProcessURLPayload) Entity() EntityRef {
	return EntityRef{Type: EntityDocument, ID: p.DocumentID}
}

func (p *ScriptPayload) validate() error {
	return requireFields("userId", p.UserID, "podcastId", p.PodcastID)
}

func (p *AudioPayload) validate() error {
	return requireFields("userId", p.UserID, "podcastId", p.PodcastID)
}

func (p *ImagePayload) validate() error {
	return requireFields("userId", p.UserID, "podcastId", p.PodcastID)
}

func (p *VoiceoverPayload) validate() error {
	return requireFields("userId", p.UserID, "voiceoverId", p.VoiceoverID)
}

func (p *ProcessURLPayload) validate() error {
	if err := requireFields("userId", p.UserID, "documentId", p.DocumentID, "url", p.URL); err != nil {
		return err
	}
	if !strings.HasPrefix(p.URL, "http://") && !strings.HasPrefix(p.URL, "https://") {
		return fmt.Errorf("%w: url must be http or https", ErrInvalidPayload)
	}
	return nil
}

// requireFields takes name/value pairs and fails on the first empty value
func requireFields(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidPayload, pairs[i])
		}
	}
	return nil
}

// DecodePayload parses raw JSON into the payload variant for jobType
func DecodePayload(jobType JobType, raw []byte) (Payload, error) {
	var p Payload
	switch jobType {
	case JobTypeGenerateScript:
		p = &ScriptPayload{}
	case JobTypeGenerateAudio:
		p = &AudioPayload{}
	case JobTypeGenerateImage:
		p = &ImagePayload{}
	case JobTypeGenerateVoiceover:
		p = &VoiceoverPayload{}
	case JobTypeProcessURL:
		p = &ProcessURLPayload{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobType, jobType)
	}

	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}
