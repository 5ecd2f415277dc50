package sarif

// Assembler provides a builder pattern for constructing SARIF logs with run metadata
type Assembler struct {
	results       []Result
	rules         []ReportingDescriptor
	notifications []Notification
	inputScope    string
	metadata      *RunMetadata
}

// NewAssembler creates a new Assembler with default values
func NewAssembler() *Assembler {
	return &Assembler{
		results: []Result{},
		rules:   []ReportingDescriptor{},
	}
}

// WithRunMetadata records the fingerprints of the registry and oracle used
func (a *Assembler) WithRunMetadata(m RunMetadata) *Assembler {
	a.metadata = &m
	return a
}

// AddResults adds SARIF results to the assembler
func (a *Assembler) AddResults(results []Result) *Assembler {
	a.results = append(a.results, results...)
	return a
}

// AddRules adds reporting descriptors (rules) to the assembler
func (a *Assembler) AddRules(rules []ReportingDescriptor) *Assembler {
	a.rules = append(a.rules, rules...)
	return a
}

// AddNotifications records tool execution problems
func (a *Assembler) AddNotifications(n []Notification) *Assembler {
	a.notifications = append(a.notifications, n...)
	return a
}

// WithInputScope sets the input scope for the SARIF log
func (a *Assembler) WithInputScope(scope string) *Assembler {
	a.inputScope = scope
	return a
}

// Build constructs the final SARIF log with all configured metadata
func (a *Assembler) Build() *Log {
	deduped := dedup(a.results)

	log := NewLog(ToolName, ToolVersion)
	log.Runs[0].Tool.Driver.Rules = a.rules
	log.Runs[0].Results = deduped

	successful := true
	for _, n := range a.notifications {
		if n.Level == "error" {
			successful = false
			break
		}
	}
	log.Runs[0].Invocations = []Invocation{{
		ExecutionSuccessful:        successful,
		ToolExecutionNotifications: a.notifications,
	}}

	props := map[string]interface{}{}
	if a.inputScope != "" {
		props["callsite/inputScope"] = a.inputScope
	}
	if a.metadata != nil {
		props["callsite/cacheKey"] = a.metadata.ComputeCacheKey()
		props["callsite/registry"] = a.metadata.RegistryFingerprint
		props["callsite/oracle"] = a.metadata.OracleFingerprint
	}
	if len(props) > 0 {
		log.Runs[0].Properties = props
	}

	return log
}
