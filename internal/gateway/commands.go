package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"chartfeed/internal/logger"
	"chartfeed/internal/model"
)

// Command types accepted over REST and websocket.
const (
	CmdAddWatchlist    = "add_watchlist"
	CmdRemoveWatchlist = "remove_watchlist"
	CmdSelect          = "select"
	CmdClear           = "clear"
	CmdToggleIndicator = "toggle_indicator"
	CmdApplyPreset     = "apply_preset"
	CmdSetChartTypes   = "set_chart_types"
	CmdSetVolatility   = "set_volatility"
	CmdSetCombinations = "set_combinations"
	CmdSetParams       = "set_params"
)

// Command is one user action.
type Command struct {
	Type       string             `json:"type" validate:"required,oneof=add_watchlist remove_watchlist select clear toggle_indicator apply_preset set_chart_types set_volatility set_combinations set_params"`
	Symbol     string             `json:"symbol,omitempty" validate:"required_if=Type add_watchlist,required_if=Type remove_watchlist,required_if=Type select,max=16"`
	Name       string             `json:"name,omitempty" validate:"required_if=Type toggle_indicator,required_if=Type apply_preset,required_if=Type set_params,max=32"`
	Enabled    *bool              `json:"enabled,omitempty"`
	KeepSymbol bool               `json:"keepSymbol,omitempty"`
	ChartTypes []string           `json:"chartTypes,omitempty" validate:"required_if=Type set_chart_types"`
	Names      []string           `json:"names,omitempty"`
	Params     map[string]float64 `json:"params,omitempty" validate:"required_if=Type set_params"`
}

var validate = validator.New()

// Execute validates and runs cmd against the session.
func (s *Server) Execute(ctx context.Context, cmd Command) error {
	start := time.Now()
	err := s.execute(ctx, cmd)
	s.Latency.Record(time.Since(start))

	outcome := "ok"
	if err != nil {
		outcome = "error"
		s.log.Warn("command failed", append(logger.LogWithTrace(ctx),
			slog.String("command", cmd.Type),
			slog.Any("error", err))...)
	} else {
		s.log.Debug("command applied", append(logger.LogWithTrace(ctx),
			slog.String("command", cmd.Type),
			slog.Duration("took", time.Since(start)))...)
	}
	if s.OnCommand != nil {
		s.OnCommand(cmd.Type, outcome)
	}
	return err
}

func (s *Server) execute(ctx context.Context, cmd Command) error {
	if err := validateCommand(cmd); err != nil {
		return err
	}
	switch cmd.Type {
	case CmdAddWatchlist:
		return s.ctl.AddToWatchlist(cmd.Symbol)
	case CmdRemoveWatchlist:
		return s.ctl.RemoveFromWatchlist(cmd.Symbol)
	case CmdSelect:
		return s.ctl.SelectSymbol(ctx, cmd.Symbol)
	case CmdClear:
		s.ctl.ClearChart(cmd.KeepSymbol)
	case CmdToggleIndicator:
		return s.ctl.ToggleIndicator(cmd.Name, cmd.Enabled)
	case CmdApplyPreset:
		return s.ctl.ApplyPreset(cmd.Name)
	case CmdSetChartTypes:
		types := make([]model.ChartType, len(cmd.ChartTypes))
		for i, t := range cmd.ChartTypes {
			types[i] = model.ChartType(t)
		}
		return s.ctl.SetChartTypes(types)
	case CmdSetVolatility:
		s.ctl.SetVolatility(cmd.Names)
	case CmdSetCombinations:
		s.ctl.SetCombinations(cmd.Names)
	case CmdSetParams:
		return s.ctl.SetIndicatorParams(cmd.Name, cmd.Params)
	}
	return nil
}

func validateCommand(cmd Command) error {
	err := validate.Struct(cmd)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &model.ConfigError{Field: fe.Field(), Err: fmt.Errorf("failed %q", fe.Tag())}
	}
	return &model.ConfigError{Field: "command", Err: err}
}

// statusFor maps a command error to an HTTP status.
func statusFor(err error) int {
	var (
		cfgErr  *model.ConfigError
		credErr *model.CredentialError
		netErr  *model.NetworkError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &cfgErr),
		errors.Is(err, model.ErrInvalidSymbol),
		errors.Is(err, model.ErrUnknownIndicator):
		return http.StatusBadRequest
	case errors.As(err, &credErr):
		return http.StatusServiceUnavailable
	case errors.As(err, &netErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
