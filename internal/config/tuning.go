// Package config loads the numeric tuning knobs for the recognition and
// liveness pipeline. Every knob is externally supplied and honored verbatim
// by the core; fields omitted from the JSON file fall back to defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for tuning parameters.
// Pointer fields distinguish "absent" from "zero", so partial configs
// are safe.
type TuningConfig struct {
	// Identity matching params
	MatchThreshold          *float64 `json:"match_threshold,omitempty"`
	HighConfidenceThreshold *float64 `json:"high_confidence_threshold,omitempty"`
	MatchCandidates         *int     `json:"match_candidates,omitempty"`

	// Frame admission params
	FrameSkip            *int     `json:"frame_skip,omitempty"`
	QualityBrightnessMin *float64 `json:"quality_brightness_floor,omitempty"`
	QualitySharpnessMin  *float64 `json:"quality_sharpness_floor,omitempty"`

	// Blink params
	MinBlinks          *int     `json:"min_blinks,omitempty"`
	BlinkMinFrames     *int     `json:"blink_min_frames,omitempty"`
	BlinkMaxFrames     *int     `json:"blink_max_frames,omitempty"`
	BlinkCVFloor       *float64 `json:"blink_cv_floor,omitempty"`
	EyeClosedThreshold *float64 `json:"eye_closed_threshold,omitempty"`

	// Movement params
	MovementWindow      *int     `json:"movement_window,omitempty"`
	MovementMinStddevPx *float64 `json:"movement_min_stddev_px,omitempty"`

	// Texture params
	TextureSharpnessFloor   *float64 `json:"texture_sharpness_floor,omitempty"`
	TextureColorStddevFloor *float64 `json:"texture_color_stddev_floor,omitempty"`
	TextureSpecularCeiling  *float64 `json:"texture_specular_ceiling,omitempty"`
	TextureFailConsecutive  *int     `json:"texture_fail_consecutive,omitempty"`

	// Session params
	LivenessExpiry         *string  `json:"liveness_expiry,omitempty"` // duration string like "30s"
	IdentityChangeDistance *float64 `json:"identity_change_distance,omitempty"`
	NoFaceResetFrames      *int     `json:"no_face_reset_frames,omitempty"`

	// Spoof classifier params
	SpoofRealThreshold *float64 `json:"spoof_real_threshold,omitempty"`
	SpoofCropScale     *float64 `json:"spoof_crop_scale,omitempty"`

	// Schedule params
	CaptureInterval *string `json:"capture_interval,omitempty"` // duration string like "33ms"
	DisplayInterval *string `json:"display_interval,omitempty"` // duration string like "16ms"
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. The file must have
// a .json extension and stay under the max file size. Omitted fields retain
// their defaults.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from internal/face subpackages
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.MatchThreshold != nil {
		if *c.MatchThreshold < 0 || *c.MatchThreshold > 2 {
			return fmt.Errorf("match_threshold must be within [0, 2], got %f", *c.MatchThreshold)
		}
	}
	if c.HighConfidenceThreshold != nil && c.MatchThreshold != nil {
		if *c.HighConfidenceThreshold > *c.MatchThreshold {
			return fmt.Errorf("high_confidence_threshold (%f) must not exceed match_threshold (%f)",
				*c.HighConfidenceThreshold, *c.MatchThreshold)
		}
	}
	if c.MatchCandidates != nil && *c.MatchCandidates < 1 {
		return fmt.Errorf("match_candidates must be at least 1, got %d", *c.MatchCandidates)
	}
	if c.FrameSkip != nil && *c.FrameSkip < 1 {
		return fmt.Errorf("frame_skip must be at least 1, got %d", *c.FrameSkip)
	}
	if c.BlinkMinFrames != nil && c.BlinkMaxFrames != nil {
		if *c.BlinkMinFrames > *c.BlinkMaxFrames {
			return fmt.Errorf("blink_min_frames (%d) must not exceed blink_max_frames (%d)",
				*c.BlinkMinFrames, *c.BlinkMaxFrames)
		}
	}
	if c.LivenessExpiry != nil && *c.LivenessExpiry != "" {
		if _, err := time.ParseDuration(*c.LivenessExpiry); err != nil {
			return fmt.Errorf("invalid liveness_expiry '%s': %w", *c.LivenessExpiry, err)
		}
	}
	if c.CaptureInterval != nil && *c.CaptureInterval != "" {
		if _, err := time.ParseDuration(*c.CaptureInterval); err != nil {
			return fmt.Errorf("invalid capture_interval '%s': %w", *c.CaptureInterval, err)
		}
	}
	if c.DisplayInterval != nil && *c.DisplayInterval != "" {
		if _, err := time.ParseDuration(*c.DisplayInterval); err != nil {
			return fmt.Errorf("invalid display_interval '%s': %w", *c.DisplayInterval, err)
		}
	}
	if c.SpoofRealThreshold != nil {
		if *c.SpoofRealThreshold < 0 || *c.SpoofRealThreshold > 1 {
			return fmt.Errorf("spoof_real_threshold must be within [0, 1], got %f", *c.SpoofRealThreshold)
		}
	}
	if c.SpoofCropScale != nil && *c.SpoofCropScale < 1 {
		return fmt.Errorf("spoof_crop_scale must be at least 1, got %f", *c.SpoofCropScale)
	}
	if c.NoFaceResetFrames != nil && *c.NoFaceResetFrames < 1 {
		return fmt.Errorf("no_face_reset_frames must be at least 1, got %d", *c.NoFaceResetFrames)
	}
	return nil
}

// GetMatchThreshold returns the match_threshold value or the default.
func (c *TuningConfig) GetMatchThreshold() float64 {
	if c.MatchThreshold == nil {
		return 0.55
	}
	return *c.MatchThreshold
}

// GetHighConfidenceThreshold returns the high_confidence_threshold value or the default.
func (c *TuningConfig) GetHighConfidenceThreshold() float64 {
	if c.HighConfidenceThreshold == nil {
		return 0.35
	}
	return *c.HighConfidenceThreshold
}

// GetMatchCandidates returns the match_candidates value or the default.
func (c *TuningConfig) GetMatchCandidates() int {
	if c.MatchCandidates == nil {
		return 5
	}
	return *c.MatchCandidates
}

// GetFrameSkip returns the frame_skip value or the default.
func (c *TuningConfig) GetFrameSkip() int {
	if c.FrameSkip == nil {
		return 3
	}
	return *c.FrameSkip
}

// GetQualityBrightnessMin returns the quality_brightness_floor value or the default.
func (c *TuningConfig) GetQualityBrightnessMin() float64 {
	if c.QualityBrightnessMin == nil {
		return 40.0
	}
	return *c.QualityBrightnessMin
}

// GetQualitySharpnessMin returns the quality_sharpness_floor value or the default.
func (c *TuningConfig) GetQualitySharpnessMin() float64 {
	if c.QualitySharpnessMin == nil {
		return 15.0
	}
	return *c.QualitySharpnessMin
}

// GetMinBlinks returns the min_blinks value or the default.
func (c *TuningConfig) GetMinBlinks() int {
	if c.MinBlinks == nil {
		return 2
	}
	return *c.MinBlinks
}

// GetBlinkMinFrames returns the blink_min_frames value or the default.
func (c *TuningConfig) GetBlinkMinFrames() int {
	if c.BlinkMinFrames == nil {
		return 1
	}
	return *c.BlinkMinFrames
}

// GetBlinkMaxFrames returns the blink_max_frames value or the default.
func (c *TuningConfig) GetBlinkMaxFrames() int {
	if c.BlinkMaxFrames == nil {
		return 7
	}
	return *c.BlinkMaxFrames
}

// GetBlinkCVFloor returns the blink_cv_floor value or the default.
func (c *TuningConfig) GetBlinkCVFloor() float64 {
	if c.BlinkCVFloor == nil {
		return 0.15
	}
	return *c.BlinkCVFloor
}

// GetEyeClosedThreshold returns the eye_closed_threshold value or the default.
func (c *TuningConfig) GetEyeClosedThreshold() float64 {
	if c.EyeClosedThreshold == nil {
		return 0.21
	}
	return *c.EyeClosedThreshold
}

// GetMovementWindow returns the movement_window value or the default.
func (c *TuningConfig) GetMovementWindow() int {
	if c.MovementWindow == nil {
		return 30
	}
	return *c.MovementWindow
}

// GetMovementMinStddevPx returns the movement_min_stddev_px value or the default.
func (c *TuningConfig) GetMovementMinStddevPx() float64 {
	if c.MovementMinStddevPx == nil {
		return 2.0
	}
	return *c.MovementMinStddevPx
}

// GetTextureSharpnessFloor returns the texture_sharpness_floor value or the default.
func (c *TuningConfig) GetTextureSharpnessFloor() float64 {
	if c.TextureSharpnessFloor == nil {
		return 60.0
	}
	return *c.TextureSharpnessFloor
}

// GetTextureColorStddevFloor returns the texture_color_stddev_floor value or the default.
func (c *TuningConfig) GetTextureColorStddevFloor() float64 {
	if c.TextureColorStddevFloor == nil {
		return 18.0
	}
	return *c.TextureColorStddevFloor
}

// GetTextureSpecularCeiling returns the texture_specular_ceiling value or the default.
func (c *TuningConfig) GetTextureSpecularCeiling() float64 {
	if c.TextureSpecularCeiling == nil {
		return 3.5
	}
	return *c.TextureSpecularCeiling
}

// GetTextureFailConsecutive returns the texture_fail_consecutive value or the default.
func (c *TuningConfig) GetTextureFailConsecutive() int {
	if c.TextureFailConsecutive == nil {
		return 5
	}
	return *c.TextureFailConsecutive
}

// GetLivenessExpiry parses and returns the liveness_expiry as a time.Duration.
func (c *TuningConfig) GetLivenessExpiry() time.Duration {
	if c.LivenessExpiry == nil || *c.LivenessExpiry == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(*c.LivenessExpiry)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetIdentityChangeDistance returns the identity_change_distance value or the default.
func (c *TuningConfig) GetIdentityChangeDistance() float64 {
	if c.IdentityChangeDistance == nil {
		return 0.8
	}
	return *c.IdentityChangeDistance
}

// GetNoFaceResetFrames returns the no_face_reset_frames value or the default.
func (c *TuningConfig) GetNoFaceResetFrames() int {
	if c.NoFaceResetFrames == nil {
		return 30
	}
	return *c.NoFaceResetFrames
}

// GetSpoofRealThreshold returns the spoof_real_threshold value or the default.
func (c *TuningConfig) GetSpoofRealThreshold() float64 {
	if c.SpoofRealThreshold == nil {
		return 0.5
	}
	return *c.SpoofRealThreshold
}

// GetSpoofCropScale returns the spoof_crop_scale value or the default.
func (c *TuningConfig) GetSpoofCropScale() float64 {
	if c.SpoofCropScale == nil {
		return 1.5
	}
	return *c.SpoofCropScale
}

// GetCaptureInterval parses and returns the capture_interval as a time.Duration.
func (c *TuningConfig) GetCaptureInterval() time.Duration {
	if c.CaptureInterval == nil || *c.CaptureInterval == "" {
		return 33 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.CaptureInterval)
	if err != nil {
		return 33 * time.Millisecond
	}
	return d
}

// GetDisplayInterval parses and returns the display_interval as a time.Duration.
func (c *TuningConfig) GetDisplayInterval() time.Duration {
	if c.DisplayInterval == nil || *c.DisplayInterval == "" {
		return 16 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.DisplayInterval)
	if err != nil {
		return 16 * time.Millisecond
	}
	return d
}
