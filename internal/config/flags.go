package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ethduties/duty-console/internal/cicd"
	"github.com/ethduties/duty-console/internal/logging"
)

const (
	defaultInterval                = 12 * time.Second
	defaultLogLevel                = "INFO"
	defaultMaxAttestationDutyLogs  = 200
	defaultRESTHost                = "127.0.0.1"
	defaultRESTPort                = 8000
	defaultValidatorUpdateInterval = 5 * time.Minute
	defaultModeCICDAttestationTime = 60.0
	defaultModeCICDAttestationProp = 0.5
)

// App builds the urfave/cli/v2 application surface described in spec.md §6.
// action is invoked with a validated Config once flags parse cleanly.
func App(action func(*Config) error) *cli.App {
	var cfg Config

	var warningColorFlag, criticalColorFlag, proposingColorFlag string

	var modeFlag string

	return &cli.App{
		Name:  "eth-duties-console",
		Usage: "monitor upcoming Ethereum consensus-layer validator duties",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "beacon-nodes", Required: true, Usage: "comma list of beacon node URLs, primary first"},
			&cli.DurationFlag{Name: "interval", Value: defaultInterval, Usage: "seconds >= 12 between log cycles"},
			&cli.StringFlag{Name: "log", Value: defaultLogLevel, Usage: "DEBUG or INFO"},
			&cli.BoolFlag{Name: "log-pubkeys", Usage: "render pubkey instead of index when no alias"},
			&cli.StringFlag{Name: "log-color-warning", Destination: &warningColorFlag, Usage: "#RRGGBB or R,G,B"},
			&cli.StringFlag{Name: "log-color-critical", Destination: &criticalColorFlag, Usage: "#RRGGBB or R,G,B"},
			&cli.StringFlag{Name: "log-color-proposing", Destination: &proposingColorFlag, Usage: "#RRGGBB or R,G,B"},
			&cli.Float64Flag{Name: "log-time-warning", Value: logging.DefaultThresholds.WarningSeconds},
			&cli.Float64Flag{Name: "log-time-critical", Value: logging.DefaultThresholds.CriticalSeconds},
			&cli.IntFlag{Name: "max-attestation-duty-logs", Value: defaultMaxAttestationDutyLogs},
			&cli.StringFlag{Name: "mode", Value: "log", Destination: &modeFlag},
			&cli.DurationFlag{Name: "mode-cicd-waiting-time"},
			&cli.Float64Flag{Name: "mode-cicd-attestation-time", Value: defaultModeCICDAttestationTime},
			&cli.Float64Flag{Name: "mode-cicd-attestation-proportion", Value: defaultModeCICDAttestationProp},
			&cli.BoolFlag{Name: "omit-attestation-duties"},
			&cli.BoolFlag{Name: "rest"},
			&cli.StringFlag{Name: "rest-host", Value: defaultRESTHost},
			&cli.IntFlag{Name: "rest-port", Value: defaultRESTPort},
			&cli.StringSliceFlag{Name: "validators"},
			&cli.StringFlag{Name: "validators-file"},
			&cli.StringFlag{Name: "validator-nodes"},
			&cli.DurationFlag{Name: "validator-update-interval", Value: defaultValidatorUpdateInterval},
		},
		Action: func(c *cli.Context) error {
			built, err := build(c, &cfg, modeFlag, warningColorFlag, criticalColorFlag, proposingColorFlag)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}

			if err := action(built); err != nil {
				return cli.Exit(err.Error(), 1)
			}

			return nil
		},
	}
}

func build(c *cli.Context, cfg *Config, modeFlag, warningColor, criticalColor, proposingColor string) (*Config, error) {
	cfg.BeaconNodes = c.StringSlice("beacon-nodes")
	if err := validateBeaconNodes(cfg.BeaconNodes); err != nil {
		return nil, err
	}

	cfg.Interval = c.Duration("interval")
	if cfg.Interval < 12*time.Second {
		return nil, fmt.Errorf("--interval must be >= 12s")
	}

	cfg.LogLevel = strings.ToUpper(c.String("log"))
	if cfg.LogLevel != "DEBUG" && cfg.LogLevel != "INFO" {
		return nil, fmt.Errorf("--log must be DEBUG or INFO")
	}

	cfg.LogPubkeys = c.Bool("log-pubkeys")

	var err error

	cfg.Colors.Warning, err = parseRGB(warningColor, RGB{R: 255, G: 255})
	if err != nil {
		return nil, fmt.Errorf("--log-color-warning: %w", err)
	}

	cfg.Colors.Critical, err = parseRGB(criticalColor, RGB{R: 255})
	if err != nil {
		return nil, fmt.Errorf("--log-color-critical: %w", err)
	}

	cfg.Colors.Proposer, err = parseRGB(proposingColor, RGB{G: 255})
	if err != nil {
		return nil, fmt.Errorf("--log-color-proposing: %w", err)
	}

	cfg.Thresholds.WarningSeconds = c.Float64("log-time-warning")
	cfg.Thresholds.CriticalSeconds = c.Float64("log-time-critical")

	if cfg.Thresholds.CriticalSeconds <= 0 || cfg.Thresholds.WarningSeconds <= 0 {
		return nil, fmt.Errorf("--log-time-warning and --log-time-critical must be > 0")
	}

	if cfg.Thresholds.WarningSeconds < cfg.Thresholds.CriticalSeconds {
		return nil, fmt.Errorf("--log-time-warning must be >= --log-time-critical")
	}

	cfg.MaxAttestationDutyLogs = c.Int("max-attestation-duty-logs")
	cfg.OmitAttestationDuties = c.Bool("omit-attestation-duties")

	cfg.Mode, err = parseMode(modeFlag)
	if err != nil {
		return nil, err
	}

	cfg.ModeCICDWaitingTime = c.Duration("mode-cicd-waiting-time")
	if cfg.Mode == cicd.ModeWait && cfg.ModeCICDWaitingTime < cfg.Interval {
		return nil, fmt.Errorf("--mode-cicd-waiting-time must be >= --interval in cicd-wait mode")
	}

	cfg.ModeCICDAttestationTime = c.Float64("mode-cicd-attestation-time")
	cfg.ModeCICDAttestationProp = c.Float64("mode-cicd-attestation-proportion")

	if cfg.ModeCICDAttestationProp < 0 || cfg.ModeCICDAttestationProp > 1 {
		return nil, fmt.Errorf("--mode-cicd-attestation-proportion must be in [0, 1]")
	}

	cfg.RESTRequested = c.Bool("rest")
	cfg.RESTEnabled = cfg.RESTRequested && !isCICDMode(cfg.Mode)

	cfg.RESTHost = c.String("rest-host")
	cfg.RESTPort = c.Int("rest-port")

	validators := c.StringSlice("validators")
	validatorsFile := c.String("validators-file")
	validatorNodesFile := c.String("validator-nodes")

	if len(validators) > 0 && validatorsFile != "" {
		return nil, fmt.Errorf("at most one of --validators or --validators-file may be supplied")
	}

	if len(validators) == 0 && validatorsFile == "" && validatorNodesFile == "" {
		return nil, fmt.Errorf("one of --validators, --validators-file or --validator-nodes is required")
	}

	if validatorsFile != "" {
		validators, err = readLines(validatorsFile)
		if err != nil {
			return nil, fmt.Errorf("--validators-file: %w", err)
		}
	}

	cfg.Validators = splitTokens(validators)

	if validatorNodesFile != "" {
		cfg.ValidatorNodes, err = parseValidatorNodes(validatorNodesFile)
		if err != nil {
			return nil, fmt.Errorf("--validator-nodes: %w", err)
		}
	}

	cfg.ValidatorUpdateInterval = c.Duration("validator-update-interval")

	return cfg, nil
}

func isCICDMode(m cicd.Mode) bool {
	return m == cicd.ModeExit || m == cicd.ModeWait || m == cicd.ModeForceGracefulExit
}

func validateBeaconNodes(nodes []string) error {
	if len(nodes) == 0 {
		return fmt.Errorf("--beacon-nodes is required")
	}

	for _, n := range nodes {
		if !strings.HasPrefix(n, "http://") && !strings.HasPrefix(n, "https://") {
			return fmt.Errorf("--beacon-nodes entries must start with http:// or https://, got %q", n)
		}
	}

	return nil
}

func parseMode(raw string) (cicd.Mode, error) {
	switch raw {
	case "log":
		return cicd.ModeLog, nil
	case "no-log":
		return cicd.ModeNoLog, nil
	case "cicd-exit":
		return cicd.ModeExit, nil
	case "cicd-wait":
		return cicd.ModeWait, nil
	case "cicd-force-graceful-exit":
		return cicd.ModeForceGracefulExit, nil
	default:
		return cicd.ModeLog, fmt.Errorf("--mode: unknown mode %q", raw)
	}
}

// parseRGB accepts "#RRGGBB" or "R,G,B" (each 0-255); empty falls back to def.
func parseRGB(raw string, def RGB) (RGB, error) {
	if raw == "" {
		return def, nil
	}

	if strings.HasPrefix(raw, "#") {
		if len(raw) != 7 {
			return RGB{}, fmt.Errorf("expected #RRGGBB, got %q", raw)
		}

		r, err1 := strconv.ParseUint(raw[1:3], 16, 8)
		g, err2 := strconv.ParseUint(raw[3:5], 16, 8)
		b, err3 := strconv.ParseUint(raw[5:7], 16, 8)

		if err1 != nil || err2 != nil || err3 != nil {
			return RGB{}, fmt.Errorf("invalid hex colour %q", raw)
		}

		return RGB{R: uint8(r), G: uint8(g), B: uint8(b)}, nil
	}

	parts := strings.Split(raw, ",")
	if len(parts) != 3 {
		return RGB{}, fmt.Errorf("expected R,G,B, got %q", raw)
	}

	vals := make([]uint8, 3)

	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 || n > 255 {
			return RGB{}, fmt.Errorf("invalid colour component %q", p)
		}

		vals[i] = uint8(n)
	}

	return RGB{R: vals[0], G: vals[1], B: vals[2]}, nil
}

func readLines(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var out []string

	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}

	return out, nil
}

// splitTokens expands space/comma separated --validators values into
// individual tokens (spec.md §6: "space/comma separated; repeatable").
func splitTokens(raw []string) []string {
	var out []string

	for _, entry := range raw {
		for _, part := range strings.FieldsFunc(entry, func(r rune) bool { return r == ' ' || r == ',' }) {
			if part != "" {
				out = append(out, part)
			}
		}
	}

	return out
}

func parseValidatorNodes(path string) ([]ValidatorNode, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}

	out := make([]ValidatorNode, 0, len(lines))

	for _, line := range lines {
		parts := strings.SplitN(line, ";", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed validator-nodes line %q, expected <URL>;<BEARER>", line)
		}

		out = append(out, ValidatorNode{URL: parts[0], BearerToken: parts[1]})
	}

	return out, nil
}
