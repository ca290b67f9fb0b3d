// Package transcript turns a conversation's message sequence into a
// date-grouped view and decides when that view follows new messages.
package transcript

// State is the scroll state of the transcript.
type State int

const (
	// Anchored follows the newest message.
	Anchored State = iota
	// Free leaves the viewport where the user put it.
	Free
)

func (s State) String() string {
	if s == Free {
		return "free"
	}
	return "anchored"
}

// DefaultThreshold is the distance from the bottom, in layout units, beyond
// which a scroll detaches the view.
const DefaultThreshold = 100

// Controller runs the auto-follow policy. It is driven from the UI loop and
// is not safe for concurrent use.
type Controller struct {
	threshold int
	state     State
	length    int
	target    int
	pending   int
	scroll    bool
}

func New(threshold int) *Controller {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Controller{threshold: threshold, target: -1}
}

func (c *Controller) State() State {
	return c.state
}

// OnScroll reports the viewport's distance from the bottom after a user
// scroll. Going past the threshold detaches the view. Scrolling back down
// does not re-anchor it; only JumpToLatest and ConversationChanged do.
func (c *Controller) OnScroll(distanceFromBottom int) {
	if c.state == Anchored && distanceFromBottom > c.threshold {
		c.state = Free
		c.scroll = false
	}
}

// OnSequence reports the current sequence length after a store update.
func (c *Controller) OnSequence(n int) {
	grew := n - c.length
	c.length = n
	if c.target >= n {
		c.target = n - 1
	}
	if grew <= 0 {
		return
	}
	if c.state == Anchored {
		c.target = n - 1
		c.scroll = true
		return
	}
	c.pending += grew
}

// ConversationChanged resets to Anchored on the newest of n messages.
func (c *Controller) ConversationChanged(n int) {
	c.state = Anchored
	c.length = n
	c.target = n - 1
	c.pending = 0
	c.scroll = true
}

// JumpToLatest re-anchors the view on the newest message.
func (c *Controller) JumpToLatest() {
	c.state = Anchored
	c.target = c.length - 1
	c.pending = 0
	c.scroll = true
}

// Target is the index of the message the view is pinned to, or -1.
func (c *Controller) Target() int {
	return c.target
}

// ShouldScroll reports whether the view must move to Target after the next
// render pass. It returns true once per request.
func (c *Controller) ShouldScroll() bool {
	s := c.scroll
	c.scroll = false
	return s
}

// NewMessages is the number of messages that arrived while Free.
func (c *Controller) NewMessages() int {
	return c.pending
}
