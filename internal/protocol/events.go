package protocol

// Inbound event tags pushed by the backend.
const (
	EvtPong           = "PONG"
	EvtChats          = "chats"          // colleague directory snapshot
	EvtWorkAppeals    = "workAppeals"    // client directory snapshot
	EvtNewChat        = "newChat"        // new colleague conversation
	EvtNewWorkAppeal  = "newWorkAppeal"  // new client conversation
	EvtNewMessage     = "newMessage"     // colleague message push
	EvtNewMessageApp  = "newMessageAppeal"
	EvtMessages       = "messages"       // page-fetch response
	EvtTyping         = "typing"
	EvtOnline         = "online"
	EvtOffline        = "offline"
	EvtMessageStatus  = "messageStatus"
	EvtChatTransfer   = "chatTransferred"
	EvtTemplates      = "templates"
	EvtTemplateStatus = "templateStatus"
	EvtMarkedAllRead  = "markedAllRead"
	EvtFoundChats     = "foundChats"
	EvtFoundContacts  = "foundContacts"
)

// Outbound event tags sent to the backend.
const (
	CmdPing           = "Ping"
	CmdGetChats       = "getChats"
	CmdGetWorkAppeals = "getWorkAppeals"
	CmdGetMessages    = "getMessages"
	CmdSendMessage    = "sendMessage"
	CmdTyping         = "typing"
	CmdReadMessages   = "readMessages"
	CmdTransferChat   = "transferChat"
	CmdSearchChats    = "searchChats"
	CmdSearchContacts = "searchContacts"
	CmdMarkAllRead    = "markAllRead"
	CmdGetTemplates   = "getTemplates"
	CmdCreateTemplate = "createTemplate"
	CmdUpdateTemplate = "updateTemplate"
	CmdDeleteTemplate = "deleteTemplate"
)
