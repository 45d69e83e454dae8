package relay

// Request and response bodies shared by the client and the server.
// Byte slices travel base64-encoded, the encoding/json default.

type UploadPackageRequest struct {
	KeyPackage []byte `json:"key_package"`
}

type UploadPackageResponse struct {
	PackageID string `json:"package_id"`
}

type FetchPackageResponse struct {
	KeyPackage []byte `json:"key_package"`
}

type SendMessageRequest struct {
	Sender     string   `json:"sender"`
	Recipients []string `json:"recipients"`
	Content    []byte   `json:"content"`
}

type SendMessageResponse struct {
	MessageID string `json:"message_id"`
	Timestamp int64  `json:"timestamp"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
