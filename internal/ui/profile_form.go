// Package ui holds the interactive profile wizard behind `iotnoise init`.
package ui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/tturner/iotnoise/internal/config"
)

// ProfileAnswers holds the wizard's raw text fields.
type ProfileAnswers struct {
	Duration    string
	Rate        string
	Seed        string
	Router      string
	Camera      string
	MQTT        string
	RTSP        string
	CoAP        string
	Rules       string // comma-separated globs
	AttacksJSON string
}

// DefaultAnswers prefills the wizard from the default profile.
func DefaultAnswers() ProfileAnswers {
	cfg := config.CreateDefaultConfig()
	return ProfileAnswers{
		Duration: strconv.Itoa(cfg.Duration),
		Rate:     strconv.FormatFloat(cfg.Rate, 'f', -1, 64),
		Seed:     strconv.FormatInt(cfg.Seed, 10),
		Router:   cfg.Targets[config.TargetRouter],
		Camera:   cfg.Targets[config.TargetCamera],
		MQTT:     cfg.Targets[config.TargetMQTT],
		RTSP:     cfg.Targets[config.TargetRTSP],
		CoAP:     cfg.Targets[config.TargetCoAP],
		Rules:    strings.Join(config.DefaultRuleGlobs, ","),
	}
}

func validatePositiveInt(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return fmt.Errorf("enter a whole number of seconds (>= 1)")
	}
	return nil
}

func validateRate(s string) error {
	r, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || r <= 0 {
		return fmt.Errorf("enter a rate above 0")
	}
	if r > config.MaxRate {
		return fmt.Errorf("rate is capped at %.0f/min", config.MaxRate)
	}
	return nil
}

func validateSeed(s string) error {
	if _, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err != nil {
		return fmt.Errorf("enter an integer seed")
	}
	return nil
}

func validateEndpoint(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if i := strings.LastIndex(s, ":"); i >= 0 {
		if p, err := strconv.Atoi(s[i+1:]); err != nil || p < 1 || p > 65535 {
			return fmt.Errorf("port must be 1-65535")
		}
	}
	return nil
}

// BuildProfileForm binds the wizard fields to a.
func BuildProfileForm(a *ProfileAnswers) *huh.Form {
	runGroup := huh.NewGroup(
		huh.NewInput().
			Title("Duration (seconds)").
			Description("How long the run lasts.").
			Key("duration").
			Validate(validatePositiveInt).
			Value(&a.Duration),
		huh.NewInput().
			Title("Rate (requests/minute)").
			Description(fmt.Sprintf("Aggregate rate across all protocols, at most %.0f.", config.MaxRate)).
			Key("rate").
			Validate(validateRate).
			Value(&a.Rate),
		huh.NewInput().
			Title("Seed").
			Description("Same seed, same device id and request sequence.").
			Key("seed").
			Validate(validateSeed).
			Value(&a.Seed),
	).Title("Run")

	endpoint := func(key, title, desc string, v *string) huh.Field {
		return huh.NewInput().
			Title(title).
			Description(desc).
			Key(key).
			Validate(validateEndpoint).
			Value(v)
	}
	targetGroup := huh.NewGroup(
		endpoint("router", "Router (HTTP)", "host[:port] of the router web UI decoy.", &a.Router),
		endpoint("camera", "Camera (HTTP)", "host[:port] of the camera web UI decoy.", &a.Camera),
		endpoint("mqtt", "MQTT broker", "host[:port]; leave empty to disable.", &a.MQTT),
		endpoint("rtsp", "RTSP server", "host[:port]; leave empty to disable.", &a.RTSP),
		endpoint("coap", "CoAP endpoint", "host[:port]; leave empty to disable.", &a.CoAP),
	).Title("Decoys")

	avoidGroup := huh.NewGroup(
		huh.NewInput().
			Title("Rule files").
			Description("Comma-separated globs of IDS rule files to stay clear of.").
			Key("rules").
			Value(&a.Rules),
		huh.NewInput().
			Title("Attack scenario JSON (optional)").
			Description("Commands in this file are never sent.").
			Key("attacks_json").
			Value(&a.AttacksJSON),
	).Title("Avoidance")

	return huh.NewForm(runGroup, targetGroup, avoidGroup)
}

// Config turns the answers into a validated profile. Empty endpoints are
// written as empty hosts so the matching worker reports no-target.
func (a ProfileAnswers) Config() (*config.Config, error) {
	if err := validatePositiveInt(a.Duration); err != nil {
		return nil, fmt.Errorf("duration: %w", err)
	}
	if err := validateRate(a.Rate); err != nil {
		return nil, fmt.Errorf("rate: %w", err)
	}
	if err := validateSeed(a.Seed); err != nil {
		return nil, fmt.Errorf("seed: %w", err)
	}

	cfg := config.CreateDefaultConfig()
	cfg.Duration, _ = strconv.Atoi(strings.TrimSpace(a.Duration))
	cfg.Rate, _ = strconv.ParseFloat(strings.TrimSpace(a.Rate), 64)
	cfg.Seed, _ = strconv.ParseInt(strings.TrimSpace(a.Seed), 10, 64)

	endpoints := map[string]string{
		config.TargetRouter: a.Router,
		config.TargetCamera: a.Camera,
		config.TargetMQTT:   a.MQTT,
		config.TargetRTSP:   a.RTSP,
		config.TargetCoAP:   a.CoAP,
	}
	for key, v := range endpoints {
		if err := validateEndpoint(v); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		v = strings.TrimSpace(v)
		if v == "" {
			cfg.Targets[key] = ":" + strconv.Itoa(config.DefaultTargets()[key].Port)
			continue
		}
		cfg.Targets[key] = v
	}

	cfg.Rules = nil
	for _, r := range strings.Split(a.Rules, ",") {
		if r = strings.TrimSpace(r); r != "" {
			cfg.Rules = append(cfg.Rules, r)
		}
	}
	cfg.AttacksJSON = strings.TrimSpace(a.AttacksJSON)

	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
