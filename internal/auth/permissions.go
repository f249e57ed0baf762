package auth

// PermChatAccess must be granted in the token's permissions claim to use the chat endpoint.
const PermChatAccess = "access:chat"
