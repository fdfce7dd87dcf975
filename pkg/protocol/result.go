package protocol

// ResultType tags the terminal outcome of one pipeline pass.
type ResultType string

const (
	ResultFlowExecuted    ResultType = "FLOW_EXECUTED"
	ResultToolExecuted    ResultType = "TOOL_EXECUTED"
	ResultAIResponse      ResultType = "AI_RESPONSE"
	ResultSwarmDelegated  ResultType = "SWARM_DELEGATED"
	ResultPassiveIngested ResultType = "PASSIVE_INGESTED"
	ResultSilent          ResultType = "SILENT"
	ResultNoAction        ResultType = "NO_ACTION"
	ResultClarification   ResultType = "CLARIFICATION"
	ResultError           ResultType = "ERROR"
)
