package paths

// Topic kinds of the device bus. A full topic is {root}/{deviceID}/{kind}.

// Upstream: vehicle and peers -> gateway
const (
	// Telemetry carries position, attitude, power and sensor blocks.
	Telemetry = "telemetry"

	// Status carries connection and flight descriptors.
	Status = "status"

	// Mission carries the waypoint plan and progress.
	Mission = "mission"

	// Video carries video session metadata; media never travels on the bus.
	Video = "video"
)

// Downstream: gateway -> vehicle and peers
const (
	// Command carries control directives. Unknown message kinds are forwarded
	// one level below it as {root}/{deviceID}/command/{type}.
	Command = "command"

	// Camera carries camera and gimbal directives.
	Camera = "camera"

	// State carries the full vehicle snapshot after every broadcast.
	State = "state"

	// Gateway carries the gateway's own online flag; it is also the will topic.
	Gateway = "gateway"
)

// Subscribed lists the kinds the gateway ingests from the bus.
var Subscribed = []string{Telemetry, Status, Command, Mission, Video}
