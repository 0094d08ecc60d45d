package domain

import "github.com/blackmichael/tech-threads-feed/internal/classifier"

// Extract collects the classifiable text of a post: the body first, then the
// text carried by its embed. Quote posts only contribute the image alt text
// of media attached to the quote. Empty embed text contributes nothing.
func Extract(text string, embed *Embed) []classifier.Fragment {
	fragments := []classifier.Fragment{classifier.Post(text)}
	if embed == nil {
		return fragments
	}

	switch {
	case embed.Video != nil:
		fragments = appendText(fragments, classifier.Video(embed.Video.Alt))
	case embed.External != nil:
		fragments = appendText(fragments,
			classifier.External(embed.External.Title),
			classifier.External(embed.External.Description),
		)
	case embed.Record != nil:
		if media := embed.Record.Media; media != nil {
			fragments = appendImages(fragments, media.Images)
		}
	case len(embed.Images) > 0:
		fragments = appendImages(fragments, embed.Images)
	}

	return fragments
}

func appendImages(fragments []classifier.Fragment, images []Image) []classifier.Fragment {
	for _, img := range images {
		fragments = appendText(fragments, classifier.Image(img.Alt))
	}
	return fragments
}

func appendText(fragments []classifier.Fragment, candidates ...classifier.Fragment) []classifier.Fragment {
	for _, f := range candidates {
		if f.Text != "" {
			fragments = append(fragments, f)
		}
	}
	return fragments
}
