package scheduler

type Event interface{}

// Nodes

type EventNodePlanned struct {
	Node      string
	Cloud     string
	Label     string
	Executors int
}

type EventNodeOnline struct {
	Node  string
	Cloud string
	Label string
	Agent string
}

type EventNodeFailed struct {
	Node  string
	Cloud string
	Label string
	Error string
}

// Demand

type EventDemandUnsatisfiable struct {
	Label    string
	Workload int
	Reason   string
}
