// Package service implements the protocol engine: replay protection,
// the activation upgrade state machine, MAC token issuance/validation
// and the recovery code lifecycle. Services receive their store and
// collaborator handles through constructors; nothing in this package
// touches SQL or HTTP directly.
package service

import "fmt"

// ErrorCode is a stable business error code surfaced to callers. The
// human message attached to a code comes from a Localizer so the
// formatting layer stays swappable.
type ErrorCode string

const (
	ErrCodeActivationNotFound           ErrorCode = "ERR_ACTIVATION_NOT_FOUND"
	ErrCodeActivationIncorrectState     ErrorCode = "ERR_ACTIVATION_INCORRECT_STATE"
	ErrCodeInvalidApplication           ErrorCode = "ERR_INVALID_APPLICATION"
	ErrCodeInvalidRequest               ErrorCode = "ERR_INVALID_REQUEST"
	ErrCodeInvalidKeyFormat             ErrorCode = "ERR_INVALID_KEY_FORMAT"
	ErrCodeDecryptionFailed             ErrorCode = "ERR_DECRYPTION_FAILED"
	ErrCodeEncryptionFailed             ErrorCode = "ERR_ENCRYPTION_FAILED"
	ErrCodeGenericCryptography          ErrorCode = "ERR_GENERIC_CRYPTOGRAPHY"
	ErrCodeCryptoProviderUnavailable    ErrorCode = "ERR_CRYPTO_PROVIDER_UNAVAILABLE"
	ErrCodeInvalidInputFormat           ErrorCode = "ERR_INVALID_INPUT_FORMAT"
	ErrCodeUnableToGenerateToken        ErrorCode = "ERR_UNABLE_TO_GENERATE_TOKEN"
	ErrCodeUnableToGenerateRecoveryCode ErrorCode = "ERR_UNABLE_TO_GENERATE_RECOVERY_CODE"
	ErrCodeRecoveryCodeAlreadyExists    ErrorCode = "ERR_RECOVERY_CODE_ALREADY_EXISTS"
	ErrCodeRecoveryCodeNotFound         ErrorCode = "ERR_RECOVERY_CODE_NOT_FOUND"
	ErrCodeInvalidRecoveryConfiguration ErrorCode = "ERR_INVALID_RECOVERY_CONFIGURATION"
	ErrCodeReplayDetected               ErrorCode = "ERR_REPLAY_DETECTED"
)

// ServiceError is the single tagged business error type. Every fallible
// validation or cryptographic step runs before persistence, so a
// ServiceError never requires a compensating rollback.
type ServiceError struct {
	Code ErrorCode
}

func (e *ServiceError) Error() string { return string(e.Code) }

// Is lets errors.Is match on the error code.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	return ok && t.Code == e.Code
}

// errCode is shorthand used throughout the services.
func errCode(code ErrorCode) *ServiceError { return &ServiceError{Code: code} }

// Localizer maps an error code to a caller-facing message. The default
// implementation carries English messages; deployments may swap it at
// the handler boundary.
type Localizer interface {
	Message(code ErrorCode) string
}

// DefaultLocalizer returns English messages for all known codes.
type DefaultLocalizer struct{}

var defaultMessages = map[ErrorCode]string{
	ErrCodeActivationNotFound:           "activation was not found",
	ErrCodeActivationIncorrectState:     "activation is in an incorrect state",
	ErrCodeInvalidApplication:           "application version is invalid or unsupported",
	ErrCodeInvalidRequest:               "request is invalid",
	ErrCodeInvalidKeyFormat:             "key format is invalid",
	ErrCodeDecryptionFailed:             "unable to decrypt request data",
	ErrCodeEncryptionFailed:             "unable to encrypt response data",
	ErrCodeGenericCryptography:          "cryptography error occurred",
	ErrCodeCryptoProviderUnavailable:    "cryptographic provider is unavailable",
	ErrCodeInvalidInputFormat:           "decrypted request data has an invalid format",
	ErrCodeUnableToGenerateToken:        "unable to generate a unique token identifier",
	ErrCodeUnableToGenerateRecoveryCode: "unable to generate a unique recovery code",
	ErrCodeRecoveryCodeAlreadyExists:    "an unrevoked recovery code already exists for the user",
	ErrCodeRecoveryCodeNotFound:         "recovery code was not found",
	ErrCodeInvalidRecoveryConfiguration: "recovery configuration is incomplete",
	ErrCodeReplayDetected:               "request was already processed",
}

// Message implements Localizer.
func (DefaultLocalizer) Message(code ErrorCode) string {
	if msg, ok := defaultMessages[code]; ok {
		return msg
	}
	return fmt.Sprintf("unknown error (%s)", code)
}
