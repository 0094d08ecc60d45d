package classifier

// Kind identifies where a fragment of text came from within a post.
type Kind int

const (
	// KindPost is the post body text.
	KindPost Kind = iota

	// KindImage is the alt text of an attached image.
	KindImage

	// KindVideo is the alt text of an attached video.
	KindVideo

	// KindExternal is the title or description of an external link card.
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindPost:
		return "post"
	case KindImage:
		return "image"
	case KindVideo:
		return "video"
	case KindExternal:
		return "external"
	default:
		return "unknown"
	}
}

// Fragment is one tagged unit of classifiable text.
type Fragment struct {
	Kind Kind
	Text string
}

// Post returns a body text fragment.
func Post(text string) Fragment { return Fragment{Kind: KindPost, Text: text} }

// Image returns an image alt text fragment.
func Image(alt string) Fragment { return Fragment{Kind: KindImage, Text: alt} }

// Video returns a video alt text fragment.
func Video(alt string) Fragment { return Fragment{Kind: KindVideo, Text: alt} }

// External returns a link card title or description fragment.
func External(text string) Fragment { return Fragment{Kind: KindExternal, Text: text} }

// Scoring is the outcome of an accepted classification. It is folded into
// the stored post and never persisted on its own.
type Scoring struct {
	Pinned   bool
	Deleted  bool
	Priority int64
}
