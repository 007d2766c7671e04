package transport

import (
	"math/rand"
	"net"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

const firstEphemeralPort = 40000

// Media owns every publication, receive endpoint and sender in the process. Channels and
// endpoints are plain "host:port" strings.
type Media struct {
	mu sync.Mutex

	termLength    int
	publications  map[string]*Publication
	receivers     map[string]*Subscription
	nextSession   int32
	nextTransport int64
	nextPort      int
	rand          *rand.Rand
}

func NewMedia(termLength int) (*Media, error) {
	if err := ValidateTermLength(termLength); err != nil {
		return nil, err
	}
	r := rand.New(rand.NewSource(rand.Int63()))
	return &Media{
		termLength:   termLength,
		publications: map[string]*Publication{},
		receivers:    map[string]*Subscription{},
		nextSession:  r.Int31(),
		nextPort:     firstEphemeralPort,
		rand:         r,
	}, nil
}

func (m *Media) TermBufferLength() int {
	return m.termLength
}

// AddPublication creates a publication on channel. Only one publication may exist per channel.
func (m *Media) AddPublication(channel string, streamID int32) (*Publication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.publications[channel]; exists {
		return nil, errors.Wrapf(ErrEndpointInUse, "channel=%s", channel)
	}
	if _, exists := m.receivers[channel]; exists {
		return nil, errors.Wrapf(ErrEndpointInUse, "channel=%s", channel)
	}
	m.nextSession++
	pub := &Publication{
		media:               m,
		channel:             channel,
		streamID:            streamID,
		sessionID:           m.nextSession,
		initialTermID:       m.rand.Int31(),
		termLength:          m.termLength,
		positionBitsToShift: PositionBitsToShift(m.termLength),
		windowLength:        int64(m.termLength / 2),
		consumers:           map[int64]*Image{},
	}
	m.publications[channel] = pub
	return pub, nil
}

// AddSubscription creates a subscription with no destinations.
func (m *Media) AddSubscription(streamID int32) *Subscription {
	return &Subscription{
		media:        m,
		streamID:     streamID,
		images:       map[int32]*Image{},
		destinations: map[string]*destination{},
	}
}

// Publication returns the publication on channel, or nil.
func (m *Media) Publication(channel string) *Publication {
	return m.publication(channel)
}

// AddSender connects a sender to the receive endpoint bound at endpoint. Frames it sends appear
// in the subscription's image for sessionID, which joins at startPosition.
func (m *Media) AddSender(endpoint string, sessionID, streamID, initialTermID int32, termLength int,
	startPosition int64,
) (*Sender, error) {
	m.mu.Lock()
	sub, ok := m.receivers[endpoint]
	m.mu.Unlock()
	if !ok {
		return nil, errors.Wrapf(ErrNotConnected, "endpoint=%s", endpoint)
	}
	if sub.StreamID() != streamID {
		return nil, errors.Wrapf(ErrStreamMismatch, "endpoint=%s, stream=%d", endpoint, streamID)
	}
	id := m.nextTransportID()
	img, err := sub.attachSender(endpoint, id, sessionID, streamID, initialTermID, termLength, startPosition)
	if err != nil {
		return nil, err
	}
	return &Sender{
		id:           id,
		endpoint:     endpoint,
		sub:          sub,
		image:        img,
		position:     startPosition,
		windowLength: int64(termLength / 2),
	}, nil
}

func (m *Media) publication(channel string) *Publication {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.publications[channel]
}

func (m *Media) removePublication(p *Publication) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publications[p.channel] == p {
		delete(m.publications, p.channel)
	}
}

func (m *Media) nextTransportID() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTransport++
	return m.nextTransport
}

// bindEndpoint registers sub as the receiver at endpoint and returns the resolved address.
// A port of 0 is replaced with the next free ephemeral port.
func (m *Media) bindEndpoint(endpoint string, sub *Subscription) (string, error) {
	host, port, err := net.SplitHostPort(endpoint)
	if err != nil {
		return "", errors.Wrapf(ErrInvalidEndpoint, "endpoint=%s: %v", endpoint, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	resolved := endpoint
	if port == "0" {
		for {
			resolved = net.JoinHostPort(host, strconv.Itoa(m.nextPort))
			m.nextPort++
			if !m.inUse(resolved) {
				break
			}
		}
	} else if m.inUse(resolved) {
		return "", errors.Wrapf(ErrEndpointInUse, "endpoint=%s", endpoint)
	}
	m.receivers[resolved] = sub
	return resolved, nil
}

func (m *Media) inUse(endpoint string) bool {
	_, pub := m.publications[endpoint]
	_, recv := m.receivers[endpoint]
	return pub || recv
}

func (m *Media) unbindEndpoint(resolved string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.receivers, resolved)
}
