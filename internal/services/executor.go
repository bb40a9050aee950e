package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/tidewatch/internal/shared"
)

// CommandExecutor implements [DownloadExecutor] by shelling out to an
// external download tool (tidal-dl-ng by default).
//
// The tool receives a browse URL for the track and either exits zero or
// fails. Failures are classified into retryable and terminal classes by
// inspecting the output; a context deadline maps to the timeout class.
// When a quality is configured it is pushed into the tool's own config
// (cfg quality_audio) before the first download.
type CommandExecutor struct {
	command     string
	quality     string
	timeout     time.Duration
	logger      *log.Logger
	qualityOnce sync.Once
}

// NewCommandExecutor creates a CommandExecutor for the given tool.
func NewCommandExecutor(command, quality string, timeout time.Duration, logger *log.Logger) *CommandExecutor {
	if command == "" {
		command = "tidal-dl-ng"
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &CommandExecutor{command: command, quality: quality, timeout: timeout, logger: logger}
}

// Name returns the executor's tool name
func (e *CommandExecutor) Name() string { return e.command }

// terminalMarkers identify failures that no retry will fix.
var terminalMarkers = []string{
	"track not available",
	"not available in your region",
	"asset is not ready for playback",
	"404",
}

// TrackURL builds the browse URL the download tool accepts.
func TrackURL(trackID string) string {
	return "https://tidal.com/browse/track/" + trackID
}

// configureQuality sets the tool's audio quality. A failure is logged
// and otherwise ignored so a misconfigured tool still attempts the
// download at whatever quality it has.
func (e *CommandExecutor) configureQuality(ctx context.Context) {
	if e.quality == "" {
		return
	}

	cfgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	e.logger.Info("setting download quality", "quality", e.quality)

	cmd := exec.CommandContext(cfgCtx, e.command, "cfg", "quality_audio", e.quality)
	if out, err := cmd.CombinedOutput(); err != nil {
		e.logger.Warn("failed to set download quality",
			"quality", e.quality, "error", err, "output", strings.TrimSpace(string(out)))
	}
}

// Download runs one download attempt for the given track.
func (e *CommandExecutor) Download(ctx context.Context, trackID string) error {
	e.qualityOnce.Do(func() { e.configureQuality(ctx) })

	runCtx := ctx
	var cancel context.CancelFunc
	if e.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, e.command, "dl", TrackURL(trackID))

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	e.logger.Debug("running download command", "command", e.command, "track", trackID)

	err := cmd.Run()
	if err == nil {
		return nil
	}

	if runCtx.Err() != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: download exceeded %s", shared.ErrTimeout, shared.FormatDuration(e.timeout))
	}

	msg := strings.TrimSpace(output.String())
	if msg == "" {
		msg = err.Error()
	}

	lowered := strings.ToLower(msg)
	for _, marker := range terminalMarkers {
		if strings.Contains(lowered, marker) {
			return fmt.Errorf("%w: %s", shared.ErrDownloadTerminal, msg)
		}
	}

	return fmt.Errorf("%w: %s", shared.ErrDownloadRetryable, msg)
}
