package authhttp

// Bucket names used by profilekit endpoints.
const (
	RLAuthRegister  = "auth_register"
	RLPasswordLogin = "auth_password_login"
	RLAuthLogout    = "auth_logout"

	RLOIDCStart    = "auth_oidc_start"
	RLOIDCCallback = "auth_oidc_callback"

	RLUserMe        = "auth_user_me"
	RLUserBiography = "auth_user_biography"

	RLAdminReconcile           = "auth_admin_reconcile"
	RLAdminProviderCredentials = "auth_admin_provider_credentials"
)
