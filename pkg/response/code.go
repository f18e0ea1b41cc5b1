package response

// 业务状态码
const (
	CodeSuccess = 0
	CodeError   = 1

	// 认证错误 100xx
	ErrAuthFailed   = 10003
	ErrTokenInvalid = 10004
	ErrNoPermission = 10005

	// 订单模块错误 300xx
	ErrOrderNotFound        = 30001
	ErrInsufficientStock    = 30002
	ErrInvalidTransition    = 30003
	ErrOrderNumberExhausted = 30004

	// 支付模块错误 400xx
	ErrPaymentNotFound  = 40001
	ErrSignatureInvalid = 40002
	ErrGatewayFailed    = 40003
	ErrDuplicateEvent   = 40004

	// 系统错误 500xx
	ErrServerInternal  = 50001
	ErrInvalidParam    = 50002
	ErrTooManyRequests = 50003
	ErrNotFound        = 50004
)
