package relay

// Payload is the JSON body exchanged with the downstream service in both
// directions.
type Payload struct {
	Numero   string `json:"numero"`
	Mensagem string `json:"mensagem"`
}

// StatusResponse is the body of every /send response.
type StatusResponse struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

const (
	statusOK    = "ok"
	statusError = "erro"

	detailMissingFields = "numero e mensagem são obrigatórios"
	detailNotReady      = "cliente não está pronto"
)
