package rest

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

type (
	otpRequest struct {
		Email string `json:"email"`
	}

	verifyRequest struct {
		Email string `json:"email"`
		OTP   string `json:"otp"`
	}
)

// SendOTP asks the backend to mail a one-time password
func (c *Client) SendOTP(ctx context.Context, email string) error {
	if _, err := c.do(ctx, http.MethodPost, routeSendOTP,
		otpRequest{Email: email}); err != nil {
		return fmt.Errorf("send otp: %w", err)
	}
	return nil
}

// VerifyOTP exchanges the one-time password for a token and stores the
// session. Any failure leaves the session empty
func (c *Client) VerifyOTP(ctx context.Context, email, otp string) error {
	b, err := c.do(ctx, http.MethodPost, routeVerifyOTP,
		verifyRequest{Email: email, OTP: otp})
	if err != nil {
		return fmt.Errorf("verify otp: %w", err)
	}

	tok := gjson.GetBytes(b, "token")
	if tok.Type != gjson.String || tok.Str == "" {
		tok = gjson.GetBytes(b, "accessToken")
	}
	if tok.Type != gjson.String || tok.Str == "" {
		return fmt.Errorf("verify otp: %w", ErrNoToken)
	}
	if err := c.session.Save(tok.Str, email); err != nil {
		return fmt.Errorf("verify otp: %w", err)
	}
	return nil
}
