package rbs

const (
	pathAnonymousAuth   = "/public/anonymous-auth"
	pathAuthRefresh     = "/public/auth-refresh"
	pathAuthCustomToken = "/public/auth-with-custom-token"
	pathSignOut         = "/user/signout"
	pathPublicAction    = "/public/action/"
	pathUserAction      = "/user/action/"
)

// operationChannel identifies this SDK in the OperationChannel header.
const operationChannel = "go"
