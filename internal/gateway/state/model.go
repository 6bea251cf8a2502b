package state

import "slices"

// GPSFix is the quality of the navigation fix.
type GPSFix string

const (
	FixNone     GPSFix = "NO_FIX"
	Fix2D       GPSFix = "2D"
	Fix3D       GPSFix = "3D"
	FixDGPS     GPSFix = "DGPS"
	FixRTKFloat GPSFix = "RTK_FLOAT"
	FixRTKFixed GPSFix = "RTK_FIXED"
)

// MissionStatus is the execution state of the waypoint plan.
type MissionStatus string

const (
	MissionIdle   MissionStatus = "IDLE"
	MissionActive MissionStatus = "ACTIVE"
	MissionPaused MissionStatus = "PAUSED"
)

// SIM kinds reported in the cellular block.
const (
	SimNone     = "none"
	SimPhysical = "physical"
	SimESIM     = "esim"
)

// Connection kinds recorded in VehicleState.ConnectionType.
const (
	ConnectionNone      = "none"
	ConnectionSerial    = "serial"
	ConnectionWiFi      = "wifi"
	ConnectionLTE       = "lte"
	ConnectionSatellite = "satellite"
	ConnectionLocal     = "local"
)

// VehicleState is the canonical snapshot of the vehicle. Values returned by
// Store.Snapshot are shared and must be treated as read-only.
type VehicleState struct {
	Connected      bool          `json:"connected"`
	ConnectionType string        `json:"connectionType"`
	SignalQuality  SignalQuality `json:"signalQuality"`

	Armed    bool    `json:"armed"`
	Flying   bool    `json:"flying"`
	Mode     string  `json:"mode"`
	Altitude float64 `json:"altitude"`

	GPS          GPS      `json:"gps"`
	Attitude     Attitude `json:"attitude"`
	Velocity     Vector3  `json:"velocity"`
	Acceleration Vector3  `json:"acceleration"`

	Battery  Battery  `json:"battery"`
	Sensors  Sensors  `json:"sensors"`
	Mission  Mission  `json:"mission"`
	Camera   Camera   `json:"camera"`
	System   System   `json:"system"`
	Cellular Cellular `json:"cellular"`
}

type SignalQuality struct {
	RSSI      float64 `json:"rssi"`
	SNR       float64 `json:"snr"`
	BER       float64 `json:"ber"`
	Latency   float64 `json:"latency"`
	Bandwidth float64 `json:"bandwidth"`
}

type GPS struct {
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	Alt        float64 `json:"alt"`
	Satellites int     `json:"satellites"`
	HDOP       float64 `json:"hdop"`
	VDOP       float64 `json:"vdop"`
	Fix        GPSFix  `json:"fix"`
	Speed      float64 `json:"speed"`
	Heading    float64 `json:"heading"`
}

type Attitude struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type Battery struct {
	Voltage     float64   `json:"voltage"`
	Current     float64   `json:"current"`
	Percentage  float64   `json:"percentage"`
	Remaining   float64   `json:"remaining"` // seconds
	Temperature float64   `json:"temperature"`
	Cells       []float64 `json:"cells"`
	Cycles      int       `json:"cycles"`
	Health      float64   `json:"health"`
}

type Sensors struct {
	IMU       IMU       `json:"imu"`
	Barometer Barometer `json:"barometer"`
	Optical   Optical   `json:"optical"`
	Radar     Radar     `json:"radar"`
}

type IMU struct {
	Accelerometer Vector3 `json:"accelerometer"`
	Gyroscope     Vector3 `json:"gyroscope"`
	Magnetometer  Vector3 `json:"magnetometer"`
	Temperature   float64 `json:"temperature"`
}

type Barometer struct {
	Pressure    float64 `json:"pressure"`
	Altitude    float64 `json:"altitude"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
}

type Optical struct {
	Flow struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	} `json:"flow"`
	Distance float64 `json:"distance"`
	Quality  float64 `json:"quality"`
}

// Radar holds ranging distances in meters per direction.
type Radar struct {
	Front  float64 `json:"front"`
	Rear   float64 `json:"rear"`
	Left   float64 `json:"left"`
	Right  float64 `json:"right"`
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom"`
}

type Waypoint struct {
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	Alt    float64 `json:"alt"`
	Speed  float64 `json:"speed,omitempty"`
	Action string  `json:"action,omitempty"`
}

type Mission struct {
	Waypoints       []Waypoint    `json:"waypoints"`
	CurrentWaypoint int           `json:"currentWaypoint"`
	Status          MissionStatus `json:"status"`
	Progress        float64       `json:"progress"`
	ETA             float64       `json:"eta"`
	Distance        float64       `json:"distance"`
}

type Camera struct {
	Recording  bool    `json:"recording"`
	Streaming  bool    `json:"streaming"`
	Resolution string  `json:"resolution"`
	FPS        int     `json:"fps"`
	Bitrate    int     `json:"bitrate"`
	Gimbal     Gimbal  `json:"gimbal"`
	Zoom       float64 `json:"zoom"`
	Exposure   float64 `json:"exposure"`
	ISO        int     `json:"iso"`
	Shutter    string  `json:"shutter"`
}

type Gimbal struct {
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
	Yaw   float64 `json:"yaw"`
	Mode  string  `json:"mode"` // FPV, FOLLOW, FREE
}

type System struct {
	CPU         float64  `json:"cpu"`
	Memory      float64  `json:"memory"`
	Storage     float64  `json:"storage"`
	Temperature float64  `json:"temperature"`
	Uptime      float64  `json:"uptime"`
	Errors      []string `json:"errors"`
	Warnings    []string `json:"warnings"`
}

// Cellular is the only block written by the modem controller.
type Cellular struct {
	Enabled    bool    `json:"enabled"`
	SimType    string  `json:"simType"`
	Carrier    string  `json:"carrier"`
	Technology string  `json:"technology"`
	Signal     float64 `json:"signal"` // dBm
	DataUsage  float64 `json:"dataUsage"`
	Roaming    bool    `json:"roaming"`
	APN        string  `json:"apn"`
	IMEI       string  `json:"imei"`
	ICCID      string  `json:"iccid"`
}

// NewVehicleState returns the state of a vehicle that has not reported yet.
func NewVehicleState() *VehicleState {
	return &VehicleState{
		ConnectionType: ConnectionNone,
		SignalQuality:  SignalQuality{RSSI: -50, SNR: 30, Latency: 20, Bandwidth: 100},
		Mode:           "STABILIZE",
		GPS:            GPS{Lat: 37.7749, Lng: -122.4194, HDOP: 1, VDOP: 1, Fix: FixNone},
		Acceleration:   Vector3{Z: 9.81},
		Battery: Battery{
			Voltage:     12.6,
			Percentage:  100,
			Remaining:   1800,
			Temperature: 25,
			Cells:       []float64{4.2, 4.2, 4.2},
			Health:      100,
		},
		Sensors: Sensors{
			IMU: IMU{
				Accelerometer: Vector3{Z: 9.81},
				Magnetometer:  Vector3{X: 25, Y: 2, Z: -40},
				Temperature:   25,
			},
			Barometer: Barometer{Pressure: 1013.25, Temperature: 25, Humidity: 60},
			Optical:   Optical{Quality: 100},
			Radar:     Radar{Front: 100, Rear: 100, Left: 100, Right: 100, Top: 100},
		},
		Mission: Mission{Waypoints: []Waypoint{}, Status: MissionIdle},
		Camera: Camera{
			Resolution: "4K",
			FPS:        30,
			Bitrate:    100000,
			Gimbal:     Gimbal{Mode: "FPV"},
			Zoom:       1,
			ISO:        100,
			Shutter:    "1/60",
		},
		System:   System{Errors: []string{}, Warnings: []string{}},
		Cellular: Cellular{SimType: SimNone, Signal: -100},
	}
}

// Clone returns a deep copy that shares no slices with s.
func (s *VehicleState) Clone() *VehicleState {
	out := *s
	out.Battery.Cells = slices.Clone(s.Battery.Cells)
	out.Mission.Waypoints = slices.Clone(s.Mission.Waypoints)
	out.System.Errors = slices.Clone(s.System.Errors)
	out.System.Warnings = slices.Clone(s.System.Warnings)
	return &out
}
