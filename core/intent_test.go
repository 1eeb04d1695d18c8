package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecideSignup_ExistingIdentityAlwaysAllowed(t *testing.T) {
	for _, intent := range []AuthIntent{IntentLogin, IntentRegister, IntentUnset, AuthIntent("bogus")} {
		require.Equal(t, SignupAllow, DecideSignup(intent, false), "intent=%q", intent)
	}
}

func TestDecideSignup_NewIdentity(t *testing.T) {
	require.Equal(t, SignupDeny, DecideSignup(IntentLogin, true))
	require.Equal(t, SignupAllow, DecideSignup(IntentRegister, true))
	require.Equal(t, SignupAllow, DecideSignup(IntentUnset, true))
	require.Equal(t, SignupAllow, DecideSignup(ParseIntent("garbage"), true))
}

func TestDecideSignup_Deterministic(t *testing.T) {
	for _, isNew := range []bool{true, false} {
		for _, intent := range []AuthIntent{IntentLogin, IntentRegister, IntentUnset} {
			require.Equal(t, DecideSignup(intent, isNew), DecideSignup(intent, isNew))
		}
	}
}

func TestParseIntent(t *testing.T) {
	cases := map[string]AuthIntent{
		"login":        IntentLogin,
		"register":     IntentRegister,
		"LOGIN":        IntentUnset,
		" login ":      IntentUnset,
		"Register":     IntentUnset,
		"":             IntentUnset,
		"signup":       IntentUnset,
		"login; x=1":   IntentUnset,
		"\tregister\n": IntentUnset,
	}
	for raw, want := range cases {
		require.Equal(t, want, ParseIntent(raw), "raw=%q", raw)
	}
}

func TestIntentAndDecisionStrings(t *testing.T) {
	require.Equal(t, "unset", IntentUnset.String())
	require.Equal(t, "login", IntentLogin.String())
	require.Equal(t, "deny", SignupDeny.String())
	require.Equal(t, "allow", SignupAllow.String())
}
