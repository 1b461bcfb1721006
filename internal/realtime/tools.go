package realtime

// Tool names the model may invoke.
const (
	ToolSearch       = "search"
	ToolSendSMS      = "send_sms"
	ToolTransferCall = "transfer_call"
	ToolEndCall      = "end_call"
)

// Tools returns the fixed tool schema advertised to the model at session
// start.
func Tools() []Tool {
	return []Tool{
		{
			Type:        "function",
			Name:        ToolSearch,
			Description: "Search the knowledge base for information to answer the caller's question. Always search before answering.",
			Parameters: ToolParameters{
				Type: "object",
				Properties: map[string]ToolProperty{
					"query": {
						Type:        "string",
						Description: "The caller's question, rephrased as a search query.",
					},
				},
				Required: []string{"query"},
			},
		},
		{
			Type:        "function",
			Name:        ToolSendSMS,
			Description: "Send one or more text messages to the caller's phone number.",
			Parameters: ToolParameters{
				Type: "object",
				Properties: map[string]ToolProperty{
					"messages": {
						Type:        "array",
						Description: "The messages to send.",
						Items:       &ToolProperty{Type: "string"},
					},
				},
				Required: []string{"messages"},
			},
		},
		{
			Type:        "function",
			Name:        ToolTransferCall,
			Description: "Transfer the call to a human agent when the caller asks for one.",
			Parameters: ToolParameters{
				Type:       "object",
				Properties: map[string]ToolProperty{},
			},
		},
		{
			Type:        "function",
			Name:        ToolEndCall,
			Description: "End the call after the caller confirms they are done.",
			Parameters: ToolParameters{
				Type:       "object",
				Properties: map[string]ToolProperty{},
			},
		},
	}
}
