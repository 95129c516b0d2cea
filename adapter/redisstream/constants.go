package redisstream

// Stream entry field holding the log line, matching the {msg: ...} record shape.
const fieldMsg = "msg"
