package config

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/mgpai22/captioner/internal/transcribe"
	"github.com/mgpai22/captioner/internal/translate"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateTranscription(); err != nil {
		return err
	}
	if _, err := translate.ParseProvider(c.Translation.Provider); err != nil {
		return fmt.Errorf("translation.provider: %w", err)
	}
	if err := c.Style.Validate(); err != nil {
		return fmt.Errorf("style: %w", err)
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateTranscription() error {
	t := c.Transcription
	if _, err := transcribe.ParseEngine(t.Engine); err != nil {
		return fmt.Errorf("transcription.engine: %w", err)
	}
	if _, err := transcribe.ParseModelSize(t.Model); err != nil {
		return fmt.Errorf("transcription.model: %w", err)
	}
	if t.MaxWords < 0 {
		return errors.New("transcription.max_words must not be negative")
	}
	if t.GapThreshold < 0 || math.IsNaN(t.GapThreshold) || math.IsInf(t.GapThreshold, 0) {
		return errors.New("transcription.gap_threshold must be a non-negative number of seconds")
	}
	if len(t.WhisperXCommand) > 0 && strings.TrimSpace(t.WhisperXCommand[0]) == "" {
		return errors.New("transcription.whisperx_command must start with an executable")
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.EventIdleTimeoutSeconds < 0 {
		return errors.New("server.event_idle_timeout_seconds must not be negative")
	}
	return nil
}
