package mqtt

import "testing"

func TestTopicMatches(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"device/drone-001/telemetry", "device/drone-001/telemetry", true},
		{"device/+/telemetry", "device/drone-001/telemetry", true},
		{"device/+/telemetry", "device/drone-001/status", false},
		{"device/+/command/#", "device/drone-001/command/LIGHTS", true},
		{"device/#", "device/drone-001/command/LIGHTS", true},
		{"device/+", "device/drone-001/telemetry", false},
		{"device/+/telemetry/extra", "device/drone-001/telemetry", false},
	}

	for _, tt := range tests {
		t.Run(tt.filter+"|"+tt.topic, func(t *testing.T) {
			if got := TopicMatches(tt.filter, tt.topic); got != tt.want {
				t.Errorf("TopicMatches(%q, %q) = %v, want %v", tt.filter, tt.topic, got, tt.want)
			}
		})
	}
}

func TestTopicFilterStripsSharePrefix(t *testing.T) {
	if got := topicFilter("$share/gateways/device/+/telemetry"); got != "device/+/telemetry" {
		t.Errorf("topicFilter() = %q", got)
	}
	if got := topicFilter("device/+/status"); got != "device/+/status" {
		t.Errorf("topicFilter() = %q", got)
	}
}

func TestClientConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ClientConfig
		wantErr bool
	}{
		{"tcp broker", ClientConfig{BrokerURL: "tcp://localhost:1883"}, false},
		{"empty", ClientConfig{}, true},
		{"no scheme", ClientConfig{BrokerURL: "localhost"}, true},
		{"bad will qos", ClientConfig{BrokerURL: "tcp://localhost:1883", WillTopic: "x", WillQoS: 3}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWithBrokerCopies(t *testing.T) {
	orig := &ClientConfig{BrokerURL: "tcp://a:1883", ClientID: "gw"}
	moved := orig.WithBroker("tcp://b:1883")
	if orig.BrokerURL != "tcp://a:1883" || moved.BrokerURL != "tcp://b:1883" || moved.ClientID != "gw" {
		t.Errorf("unexpected configs: orig=%+v moved=%+v", orig, moved)
	}
}
