package apperr

var (
	ErrEmptyContent      = InvalidArg("message content cannot be empty")
	ErrMissingReceiver   = InvalidArg("receiver id is required")
	ErrMissingSender     = InvalidArg("sender id is required")
	ErrInvalidMessageID  = InvalidArg("invalid message id")
	ErrSenderMismatch    = Forbidden("sender does not match the authenticated user")
	ErrNotParticipant    = Forbidden("caller is not a participant of this conversation")
	ErrMessageNotFound   = NotFound("message not found")
	ErrUserNotFound      = NotFound("user not found")
	ErrContactNotFound   = NotFound("contact not found")
	ErrUsernameTaken     = AlreadyExists("username already exists")
	ErrUserIDTaken       = AlreadyExists("user id already exists")
	ErrAlreadyContact    = InvalidArg("already in contacts")
	ErrSelfContact       = InvalidArg("cannot add yourself as a contact")
	ErrInvalidCredential = Unauthorized("invalid username or password")
	ErrInvalidToken      = Unauthorized("invalid token")
	ErrRateLimited       = New(CodeResourceExhausted, "rate limit exceeded")
	ErrReceiverOffline   = Transport("receiver has no live connection")
	ErrSendQueueFull     = Transport("connection send queue is full")
)
