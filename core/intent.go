package core

// AuthIntent is what the user declared before starting a social sign-in:
// "log me in" or "sign me up". It is recorded before the provider redirect
// and read once when the provider calls back.
type AuthIntent string

const (
	IntentUnset    AuthIntent = ""
	IntentLogin    AuthIntent = "login"
	IntentRegister AuthIntent = "register"
)

// ParseIntent maps a raw carrier value to an AuthIntent. Only the exact values
// "login" and "register" are recognised; anything else, including "LOGIN" or
// " login", is IntentUnset and so never closes signup.
func ParseIntent(raw string) AuthIntent {
	switch AuthIntent(raw) {
	case IntentLogin:
		return IntentLogin
	case IntentRegister:
		return IntentRegister
	default:
		return IntentUnset
	}
}

func (i AuthIntent) String() string {
	if i == IntentUnset {
		return "unset"
	}
	return string(i)
}

// SignupDecision is the outcome of DecideSignup.
type SignupDecision int

const (
	SignupAllow SignupDecision = iota
	SignupDeny
)

func (d SignupDecision) String() string {
	if d == SignupDeny {
		return "deny"
	}
	return "allow"
}

// DecideSignup reports whether a social callback may create a new local account.
//
// The gate only governs signup: when the external identity already maps to an
// account the answer is always SignupAllow. For a new identity, an explicit
// login intent denies creation; register, unset and unknown intents allow it.
func DecideSignup(intent AuthIntent, isNewIdentity bool) SignupDecision {
	if !isNewIdentity {
		return SignupAllow
	}
	if intent == IntentLogin {
		return SignupDeny
	}
	return SignupAllow
}
