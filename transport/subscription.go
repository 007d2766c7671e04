package transport

import (
	"sync"

	"github.com/pkg/errors"
)

type destination struct {
	endpoint    string
	resolved    string
	publication *Publication
	transportID int64
	image       *Image
	// senders feeding a receive endpoint, by transport id
	senders map[int64]*Image
}

// Subscription receives one stream id from any number of destinations. A destination naming a
// publication channel attaches the subscription to that publication (live); any other endpoint
// is bound as a receive endpoint that Senders may target, with port 0 resolved to an ephemeral
// port.
type Subscription struct {
	mu sync.Mutex

	media        *Media
	streamID     int32
	images       map[int32]*Image
	destinations map[string]*destination
	closed       bool
	roundRobin   int
}

func (s *Subscription) StreamID() int32 {
	return s.streamID
}

func (s *Subscription) AddDestination(endpoint string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if _, exists := s.destinations[endpoint]; exists {
		s.mu.Unlock()
		return errors.Wrapf(ErrDestinationExists, "endpoint=%s", endpoint)
	}
	// reserve the slot so a concurrent add of the same endpoint fails
	dest := &destination{endpoint: endpoint, senders: map[int64]*Image{}}
	s.destinations[endpoint] = dest
	s.mu.Unlock()

	var err error
	if pub := s.media.publication(endpoint); pub != nil {
		err = s.addLiveDestination(dest, pub)
	} else {
		var resolved string
		if resolved, err = s.media.bindEndpoint(endpoint, s); err == nil {
			s.mu.Lock()
			dest.resolved = resolved
			s.mu.Unlock()
		}
	}
	if err != nil {
		s.mu.Lock()
		delete(s.destinations, endpoint)
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Subscription) addLiveDestination(dest *destination, pub *Publication) error {
	if pub.StreamID() != s.streamID {
		return errors.Wrapf(ErrStreamMismatch, "publication stream=%d, subscription stream=%d",
			pub.StreamID(), s.streamID)
	}
	id, img, err := pub.attach(s)
	if err != nil {
		return err
	}
	s.mu.Lock()
	dest.publication = pub
	dest.transportID = id
	dest.image = img
	s.mu.Unlock()
	return nil
}

func (s *Subscription) RemoveDestination(endpoint string) error {
	s.mu.Lock()
	dest, ok := s.destinations[endpoint]
	if !ok {
		s.mu.Unlock()
		return errors.Wrapf(ErrUnknownDestination, "endpoint=%s", endpoint)
	}
	delete(s.destinations, endpoint)
	s.mu.Unlock()

	s.release(dest)
	return nil
}

func (s *Subscription) release(dest *destination) {
	s.mu.Lock()
	pub, transportID, resolved := dest.publication, dest.transportID, dest.resolved
	s.mu.Unlock()
	if pub != nil {
		pub.detach(transportID)
	}
	if resolved != "" {
		s.media.unbindEndpoint(resolved)
	}
	s.mu.Lock()
	senders := dest.senders
	dest.senders = map[int64]*Image{}
	s.mu.Unlock()
	for id, img := range senders {
		img.removeTransport(id)
	}
}

// attachSender adds transport id, fed through the receive endpoint resolved, to the image for
// sessionID.
func (s *Subscription) attachSender(resolved string, id int64, sessionID, streamID, initialTermID int32,
	termLength int, startPosition int64,
) (*Image, error) {
	s.mu.Lock()
	var dest *destination
	for _, d := range s.destinations {
		if d.resolved == resolved {
			dest = d
			break
		}
	}
	s.mu.Unlock()
	if dest == nil {
		return nil, errors.Wrapf(ErrNotConnected, "endpoint=%s", resolved)
	}

	img, err := s.imageFor(sessionID, streamID, initialTermID, termLength, startPosition)
	if err != nil {
		return nil, err
	}
	img.addTransport(id, startPosition)

	s.mu.Lock()
	dest.senders[id] = img
	s.mu.Unlock()
	return img, nil
}

func (s *Subscription) detachSender(resolved string, id int64) {
	s.mu.Lock()
	var img *Image
	for _, d := range s.destinations {
		if d.resolved == resolved {
			img = d.senders[id]
			delete(d.senders, id)
			break
		}
	}
	s.mu.Unlock()
	if img != nil {
		img.removeTransport(id)
	}
}

// ResolvedEndpoint returns the bound address for a receive destination, or "" when the
// destination is unknown or is a live publication.
func (s *Subscription) ResolvedEndpoint(endpoint string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dest, ok := s.destinations[endpoint]; ok {
		return dest.resolved
	}
	return ""
}

// DestinationStatus reports what a live destination has delivered so far.
func (s *Subscription) DestinationStatus(endpoint string) DestinationStatus {
	s.mu.Lock()
	var img *Image
	var transportID int64
	if dest, ok := s.destinations[endpoint]; ok {
		img, transportID = dest.image, dest.transportID
	}
	s.mu.Unlock()
	if img == nil {
		return DestinationStatus{}
	}
	return img.transportStatus(transportID)
}

func (s *Subscription) ImageBySessionID(sessionID int32) *Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.images[sessionID]
}

func (s *Subscription) Images() []*Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	images := make([]*Image, 0, len(s.images))
	for _, img := range s.images {
		images = append(images, img)
	}
	return images
}

// Poll polls each image in turn, starting from a rotating offset, until fragmentLimit fragments
// have been delivered.
func (s *Subscription) Poll(handler FragmentHandler, fragmentLimit int) int {
	images := s.Images()
	if len(images) == 0 {
		return 0
	}
	s.mu.Lock()
	s.roundRobin++
	start := s.roundRobin % len(images)
	s.mu.Unlock()

	count := 0
	for i := 0; i < len(images) && count < fragmentLimit; i++ {
		count += images[(start+i)%len(images)].Poll(handler, fragmentLimit-count)
	}
	return count
}

// imageFor returns the image for sessionID while it still has a source, otherwise it replaces
// it with a new image joining at joinPosition.
func (s *Subscription) imageFor(sessionID, streamID, initialTermID int32, termLength int,
	joinPosition int64,
) (*Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	old, ok := s.images[sessionID]
	if ok && !old.ended() {
		return old, nil
	}
	if ok {
		old.close()
	}
	img := newImage(sessionID, streamID, initialTermID, termLength, joinPosition)
	s.images[sessionID] = img
	return img, nil
}

// Close removes every destination and closes all images.
func (s *Subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	dests := s.destinations
	images := s.images
	s.destinations = map[string]*destination{}
	s.images = map[int32]*Image{}
	s.mu.Unlock()

	for _, dest := range dests {
		s.release(dest)
	}
	for _, img := range images {
		img.close()
	}
	return nil
}
