package media

// Kind is the closed set of media kinds found in media_metadata entries
type Kind int

const (
	KindUnhandled Kind = iota
	KindImage
	KindAnimatedImage
	KindRedditVideo
)

// ParseKind maps the "e" field of a media entry to a Kind
func ParseKind(e string) Kind {
	switch e {
	case "Image":
		return KindImage
	case "AnimatedImage":
		return KindAnimatedImage
	case "RedditVideo":
		return KindRedditVideo
	default:
		return KindUnhandled
	}
}

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "Image"
	case KindAnimatedImage:
		return "AnimatedImage"
	case KindRedditVideo:
		return "RedditVideo"
	default:
		return "Unhandled"
	}
}

// mimeExtensions is the only source of image extensions when no usable
// external URL is present.
var mimeExtensions = map[string]string{
	"image/jpg":  "jpg",
	"image/jpeg": "jpeg",
	"image/png":  "png",
	"image/gif":  "gif",
}

// ExtensionForMIME returns the file extension for an image MIME type
func ExtensionForMIME(mime string) (string, bool) {
	ext, ok := mimeExtensions[mime]
	return ext, ok
}
