package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"fleetdash/internal/log"
	"fleetdash/internal/rest"
	"fleetdash/internal/session"
)

var ErrNoEmail = errors.New("no email given")

// ensureSession restores the stored session or runs the OTP login
func ensureSession(
	ctx context.Context, api *rest.Client, in *lineReader, out io.Writer,
	email string, logger *slog.Logger,
) error {
	sess := api.Session()
	err := sess.Load()
	if err == nil {
		logger.Info("Session restored", slog.String("email", sess.Email()))
		return nil
	}
	if !errors.Is(err, session.ErrNoSession) {
		logger.Warn("Ignoring unreadable session", log.Error(err))
	}

	if email == "" {
		fmt.Fprint(out, "Email: ")
		if email, err = in.ReadLine(ctx); err != nil {
			return err
		}
		if email == "" {
			return ErrNoEmail
		}
	}
	if err := api.SendOTP(ctx, email); err != nil {
		return fmt.Errorf("send otp: %w", err)
	}

	for tries := 0; tries < 3; tries++ {
		fmt.Fprintf(out, "Code sent to %s. OTP: ", email)
		otp, err := in.ReadLine(ctx)
		if err != nil {
			return err
		}
		err = api.VerifyOTP(ctx, email, otp)
		if err == nil {
			logger.Info("Signed in", slog.String("email", email))
			return nil
		}
		if !errors.Is(err, rest.ErrUnauthorized) && !errors.Is(err, rest.ErrHTTPStatus) {
			return fmt.Errorf("verify otp: %w", err)
		}
		fmt.Fprintf(out, "Invalid code: %v\n", err)
	}
	return fmt.Errorf("verify otp: %w", rest.ErrUnauthorized)
}
