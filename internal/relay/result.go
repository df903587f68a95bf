package relay

// ResultKind classifies the terminal outcome of one relayed message.
type ResultKind int

const (
	// ResultSuccess carries a normalized reply ready for display.
	ResultSuccess ResultKind = iota
	// ResultQuotaExceeded is the 429 path reserved for the message cap.
	ResultQuotaExceeded
	// ResultTransportFailure covers network errors and timeouts after the
	// single direct-endpoint fallback has also failed.
	ResultTransportFailure
	// ResultRemoteError is a reachable server answering non-2xx.
	ResultRemoteError
)

func (k ResultKind) String() string {
	switch k {
	case ResultSuccess:
		return "success"
	case ResultQuotaExceeded:
		return "quota_exceeded"
	case ResultTransportFailure:
		return "transport_failure"
	case ResultRemoteError:
		return "remote_error"
	default:
		return "unknown"
	}
}

// Result is produced exactly once per outbound message, by either the
// relay client or the polling fallback. Detail is for logs only and is
// never shown to the end user.
type Result struct {
	Kind   ResultKind
	Reply  string
	Detail string
}

func Success(reply string) Result {
	return Result{Kind: ResultSuccess, Reply: reply}
}

func QuotaExceeded() Result {
	return Result{Kind: ResultQuotaExceeded}
}

func TransportFailure(detail string) Result {
	return Result{Kind: ResultTransportFailure, Detail: detail}
}

func RemoteError(detail string) Result {
	return Result{Kind: ResultRemoteError, Detail: detail}
}
