package slotstat

// DB events, in slot order.
const (
	DBGet = iota
	DBGot
	DBCreate
	DBUnget
	DBClose
)

// DBEvents is the schema shared by every DBCounters node.
var DBEvents = NewSchema("db", "get", "got", "create", "unget", "close")

// DBCounters counts resource pool events. Get and Got are independent
// counters; callers record both around an acquisition.
type DBCounters struct {
	*Counters
}

func NewDBCounters(name string) DBCounters {
	return DBCounters{NewCounters(name, DBEvents)}
}

func (c DBCounters) OnGet()    { c.OnEvent(DBGet) }
func (c DBCounters) OnGot()    { c.OnEvent(DBGot) }
func (c DBCounters) OnCreate() { c.OnEvent(DBCreate) }
func (c DBCounters) OnUnget()  { c.OnEvent(DBUnget) }
func (c DBCounters) OnClose()  { c.OnEvent(DBClose) }

// Runner events, in slot order. Close and Check have distinct slots.
const (
	RunnerAccept = iota
	RunnerConnect
	RunnerConnectable
	RunnerConnected
	RunnerRead
	RunnerWrite
	RunnerClose
	RunnerCheck
)

// RunnerEvents is the schema shared by every RunnerCounters node.
var RunnerEvents = NewSchema("runner",
	"accept", "connect", "connectable", "connected", "read", "write", "close", "check")

// RunnerCounters counts protocol runner events.
type RunnerCounters struct {
	*Counters
}

func NewRunnerCounters(name string) RunnerCounters {
	return RunnerCounters{NewCounters(name, RunnerEvents)}
}

func (c RunnerCounters) OnAccept()      { c.OnEvent(RunnerAccept) }
func (c RunnerCounters) OnConnect()     { c.OnEvent(RunnerConnect) }
func (c RunnerCounters) OnConnectable() { c.OnEvent(RunnerConnectable) }
func (c RunnerCounters) OnConnected()   { c.OnEvent(RunnerConnected) }
func (c RunnerCounters) OnRead()        { c.OnEvent(RunnerRead) }
func (c RunnerCounters) OnWrite()       { c.OnEvent(RunnerWrite) }
func (c RunnerCounters) OnClose()       { c.OnEvent(RunnerClose) }
func (c RunnerCounters) OnCheck()       { c.OnEvent(RunnerCheck) }
