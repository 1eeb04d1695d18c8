package oidckit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zitadel/oidc/v2/pkg/client/rp"
	"github.com/zitadel/oidc/v2/pkg/oidc"
	"golang.org/x/oauth2"
)

var errNoIDToken = errors.New("token response has no id_token")

// DefaultExchanger redeems code with the PKCE verifier, then verifies the ID token
// with a verifier bound to this flow's nonce.
func DefaultExchanger(ctx context.Context, client rp.RelyingParty, provider, code, verifier, nonce string) (Claims, error) {
	tok, err := client.OAuthConfig().Exchange(ctx, code, oauth2.SetAuthURLParam("code_verifier", verifier))
	if err != nil {
		return Claims{}, fmt.Errorf("%s: token exchange: %w", provider, err)
	}
	raw, _ := tok.Extra("id_token").(string)
	if raw == "" {
		return Claims{}, fmt.Errorf("%s: %w", provider, errNoIDToken)
	}

	base := client.IDTokenVerifier()
	v := rp.NewIDTokenVerifier(base.Issuer(), base.ClientID(), base.KeySet(),
		rp.WithNonce(func(context.Context) string { return nonce }))
	idt, err := rp.VerifyIDToken[*oidc.IDTokenClaims](ctx, raw, v)
	if err != nil {
		return Claims{}, fmt.Errorf("%s: verify id_token: %w", provider, err)
	}
	if idt == nil {
		return Claims{}, fmt.Errorf("%s: %w", provider, errNoIDToken)
	}
	return claimsFromIDToken(idt, raw), nil
}

func claimsFromIDToken(idt *oidc.IDTokenClaims, raw string) Claims {
	c := Claims{Subject: idt.GetSubject(), RawIDToken: raw}
	if email := strings.TrimSpace(idt.UserInfoEmail.Email); email != "" {
		verified := bool(idt.UserInfoEmail.EmailVerified)
		c.Email = &email
		c.EmailVerified = &verified
	}
	p := idt.UserInfoProfile
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = strings.TrimSpace(p.GivenName + " " + p.FamilyName)
	}
	c.Name = nonEmpty(name)
	c.PreferredUsername = nonEmpty(strings.TrimSpace(p.PreferredUsername))
	return c
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
