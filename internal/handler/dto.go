package handler // handler package contains the HTTP surface of the activation server

import (
	"encoding/base64"
	"fmt"

	"github.com/iliyamo/activation-server/internal/service"
)

// encryptedRequestBody is the wire form of an encrypted protocol request.
// Binary fields travel base64 encoded; timestamp is epoch milliseconds
// and omitted by protocol versions before 3.2.
type encryptedRequestBody struct {
	ActivationID       string `json:"activationId"`
	ApplicationKey     string `json:"applicationKey"`
	EphemeralPublicKey string `json:"ephemeralPublicKey"`
	EncryptedData      string `json:"encryptedData"`
	Mac                string `json:"mac"`
	Nonce              string `json:"nonce,omitempty"`
	Timestamp          int64  `json:"timestamp,omitempty"`
	ProtocolVersion    string `json:"protocolVersion"`
}

// encryptedResponseBody is the wire form of an encrypted protocol
// response. Nonce and timestamp are present only from protocol version
// 3.2 on.
type encryptedResponseBody struct {
	EncryptedData string `json:"encryptedData"`
	Mac           string `json:"mac"`
	Nonce         string `json:"nonce,omitempty"`
	Timestamp     int64  `json:"timestamp,omitempty"`
}

// decodeEnvelope converts the wire body into the service request,
// decoding every base64 field. A malformed field is reported by name.
func decodeEnvelope(body encryptedRequestBody) (service.EncryptedRequest, error) {
	req := service.EncryptedRequest{
		ActivationID:    body.ActivationID,
		ApplicationKey:  body.ApplicationKey,
		Timestamp:       body.Timestamp,
		ProtocolVersion: body.ProtocolVersion,
	}
	var err error
	if req.EphemeralPublicKey, err = decodeField("ephemeralPublicKey", body.EphemeralPublicKey); err != nil {
		return service.EncryptedRequest{}, err
	}
	if req.EncryptedData, err = decodeField("encryptedData", body.EncryptedData); err != nil {
		return service.EncryptedRequest{}, err
	}
	if req.Mac, err = decodeField("mac", body.Mac); err != nil {
		return service.EncryptedRequest{}, err
	}
	if req.Nonce, err = decodeField("nonce", body.Nonce); err != nil {
		return service.EncryptedRequest{}, err
	}
	return req, nil
}

// encodeEnvelope converts the service response into its wire form.
func encodeEnvelope(resp service.EncryptedResponse) encryptedResponseBody {
	body := encryptedResponseBody{
		EncryptedData: base64.StdEncoding.EncodeToString(resp.EncryptedData),
		Mac:           base64.StdEncoding.EncodeToString(resp.Mac),
		Timestamp:     resp.Timestamp,
	}
	if len(resp.Nonce) > 0 {
		body.Nonce = base64.StdEncoding.EncodeToString(resp.Nonce)
	}
	return body
}

func decodeField(name, value string) ([]byte, error) {
	if value == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("field %s is not valid base64", name)
	}
	return b, nil
}
