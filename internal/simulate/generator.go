// Package simulate synthesizes office traffic for demo deployments where
// live capture is unavailable or undesirable. Five employee personas
// browse normal sites, talk to internal servers, and occasionally give in
// to AI temptation.
package simulate

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/shadowhunter/backend/internal/bus"
	"github.com/shadowhunter/backend/internal/telemetry"
)

type persona struct {
	name         string
	ip           string
	normalSites  []site
	aiTemptation float64 // probability per activity cycle
	aiServices   []site
}

type site struct {
	host string
	ip   string
}

var internalServers = []site{
	{"fileserver.corp.local", "192.168.1.200"},
	{"mail.corp.local", "192.168.1.201"},
	{"wiki.corp.local", "192.168.1.202"},
}

var personas = []persona{
	{
		name: "marketing-laptop", ip: "192.168.1.10",
		normalSites: []site{
			{"www.linkedin.com", "108.174.10.10"},
			{"mail.google.com", "142.251.16.17"},
			{"www.canva.com", "104.16.88.20"},
		},
		aiTemptation: 0.35,
		aiServices: []site{
			{"api.openai.com", "13.107.42.14"},
			{"chat.openai.com", "13.107.42.16"},
		},
	},
	{
		name: "developer-workstation", ip: "192.168.1.11",
		normalSites: []site{
			{"github.com", "140.82.112.3"},
			{"stackoverflow.com", "151.101.1.69"},
			{"registry.npmjs.org", "104.16.92.83"},
		},
		aiTemptation: 0.50,
		aiServices: []site{
			{"api.anthropic.com", "34.102.136.20"},
			{"copilot-proxy.githubusercontent.com", "140.82.113.21"},
			{"api.groq.com", "76.76.21.10"},
		},
	},
	{
		name: "finance-desktop", ip: "192.168.1.12",
		normalSites: []site{
			{"www.bloomberg.com", "205.146.21.30"},
			{"online.sap.com", "155.56.66.10"},
		},
		aiTemptation: 0.10,
		aiServices: []site{
			{"chat.openai.com", "13.107.42.16"},
		},
	},
	{
		name: "research-analyst", ip: "192.168.1.13",
		normalSites: []site{
			{"arxiv.org", "151.101.131.42"},
			{"scholar.google.com", "142.251.16.100"},
		},
		aiTemptation: 0.60,
		aiServices: []site{
			{"claude.ai", "34.102.136.30"},
			{"huggingface.co", "54.164.20.10"},
			{"api.mistral.ai", "51.159.10.20"},
		},
	},
	{
		name: "intern-laptop", ip: "192.168.1.14",
		normalSites: []site{
			{"www.youtube.com", "142.251.16.190"},
			{"www.reddit.com", "151.101.65.140"},
		},
		aiTemptation: 0.45,
		aiServices: []site{
			{"character.ai", "172.67.30.10"},
			{"poe.com", "104.18.30.40"},
		},
	},
}

// Generator publishes synthetic flow events to the bus.
type Generator struct {
	bus   bus.Bus
	topic string
	rng   *rand.Rand
}

// NewGenerator creates a simulator publishing on the given topic.
func NewGenerator(b bus.Bus, topic string) *Generator {
	return &Generator{
		bus:   b,
		topic: topic,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run cycles through the personas until the context ends. Each persona
// acts every 2-5 seconds.
func (g *Generator) Run(ctx context.Context) {
	slog.Info("[Simulate] Demo traffic generator started", "personas", len(personas))
	for {
		for i := range personas {
			select {
			case <-ctx.Done():
				slog.Info("[Simulate] Generator stopped")
				return
			case <-time.After(time.Duration(2000+g.rng.Intn(3000)) * time.Millisecond):
			}
			g.act(ctx, &personas[i])
		}
	}
}

// act emits one activity burst for a persona: an internal touch, a normal
// site visit, and sometimes an AI request.
func (g *Generator) act(ctx context.Context, p *persona) {
	srv := internalServers[g.rng.Intn(len(internalServers))]
	g.publish(ctx, p.ip, srv.ip, 445, telemetry.ProtocolTCP,
		int64(200+g.rng.Intn(4000)), int64(500+g.rng.Intn(20000)), nil)

	normal := p.normalSites[g.rng.Intn(len(p.normalSites))]
	g.publish(ctx, p.ip, normal.ip, 443, telemetry.ProtocolHTTPS,
		int64(500+g.rng.Intn(3000)), int64(5000+g.rng.Intn(80000)),
		map[string]string{telemetry.MetaSNI: normal.host})

	if g.rng.Float64() < p.aiTemptation {
		ai := p.aiServices[g.rng.Intn(len(p.aiServices))]
		g.publish(ctx, p.ip, ai.ip, 443, telemetry.ProtocolHTTPS,
			int64(2000+g.rng.Intn(60000)), int64(1000+g.rng.Intn(20000)),
			map[string]string{telemetry.MetaSNI: ai.host})
	}
}

func (g *Generator) publish(ctx context.Context, src, dst string, dstPort int,
	proto telemetry.Protocol, sent, recv int64, metadata map[string]string) {
	if metadata == nil {
		metadata = map[string]string{}
	}
	event := &telemetry.FlowEvent{
		SourceIP:        src,
		DestinationIP:   dst,
		SourcePort:      40000 + g.rng.Intn(20000),
		DestinationPort: dstPort,
		Protocol:        proto,
		BytesSent:       sent,
		BytesReceived:   recv,
		Timestamp:       time.Now(),
		Metadata:        metadata,
	}
	if err := g.bus.Publish(ctx, g.topic, event); err != nil {
		slog.Warn("[Simulate] Publish failed", "error", err)
	}
}
