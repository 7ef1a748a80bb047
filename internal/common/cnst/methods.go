package cnst

// Method is the name of an RPC method carried over a duplex channel.
type Method string

func (m Method) String() string {
	return string(m)
}

// Methods exposed by the server and called by a Host.
const (
	MethodInitializeHost          Method = "INITIALIZE_HOST"
	MethodBeginHostShutdown       Method = "BEGIN_HOST_SHUTDOWN"
	MethodSendIOCall              Method = "SEND_IO_CALL"
	MethodSendLoadingCall         Method = "SEND_LOADING_CALL"
	MethodSendLog                 Method = "SEND_LOG"
	MethodSendRedirect            Method = "SEND_REDIRECT"
	MethodNotify                  Method = "NOTIFY"
	MethodMarkTransactionComplete Method = "MARK_TRANSACTION_COMPLETE"
	MethodSendPage                Method = "SEND_PAGE"
)

// Methods exposed by the server and called by a Client.
const (
	MethodInitializeClient             Method = "INITIALIZE_CLIENT"
	MethodConnectToTransactionAsClient Method = "CONNECT_TO_TRANSACTION_AS_CLIENT"
	MethodLeaveTransaction             Method = "LEAVE_TRANSACTION"
	MethodRespondToIOCall              Method = "RESPOND_TO_IO_CALL"
	MethodRequestPage                  Method = "REQUEST_PAGE"
	MethodLeavePage                    Method = "LEAVE_PAGE"
)

// Methods the server calls on a Host.
const (
	MethodStartTransaction Method = "START_TRANSACTION"
	MethodIOResponse       Method = "IO_RESPONSE"
	MethodOpenPage         Method = "OPEN_PAGE"
	MethodClosePage        Method = "CLOSE_PAGE"
)

// Methods the server calls on a Client.
const (
	MethodRender                 Method = "RENDER"
	MethodRenderPage             Method = "RENDER_PAGE"
	MethodLoadingState           Method = "LOADING_STATE"
	MethodLog                    Method = "LOG"
	MethodRedirect               Method = "REDIRECT"
	MethodCloseTransaction       Method = "CLOSE_TRANSACTION"
	MethodClientUsurped          Method = "CLIENT_USURPED"
	MethodHostClosedUnexpectedly Method = "HOST_CLOSED_UNEXPECTEDLY"
	MethodTransactionCompleted   Method = "TRANSACTION_COMPLETED"
	MethodClientNotify           Method = "NOTIFY"
)

// HostCallable lists what the server may call on a Host socket.
var HostCallable = []Method{
	MethodStartTransaction,
	MethodIOResponse,
	MethodOpenPage,
	MethodClosePage,
}

// ClientCallable lists what the server may call on a Client socket.
var ClientCallable = []Method{
	MethodRender,
	MethodRenderPage,
	MethodLoadingState,
	MethodLog,
	MethodRedirect,
	MethodCloseTransaction,
	MethodClosePage,
	MethodClientUsurped,
	MethodHostClosedUnexpectedly,
	MethodTransactionCompleted,
	MethodClientNotify,
}
