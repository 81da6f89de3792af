package span

import (
	"fmt"
	"os"
)

// Parent is a top-level taxonomy category. Every leaf category maps to
// exactly one parent; the mapping is exhaustive and covered by tests so a
// new leaf cannot ship without a parent.
type Parent string

const (
	ParentSubject     Parent = "subject"
	ParentAction      Parent = "action"
	ParentEnvironment Parent = "environment"
	ParentLighting    Parent = "lighting"
	ParentCamera      Parent = "camera"
	ParentStyle       Parent = "style"
	ParentTechnical   Parent = "technical"
	ParentAudio       Parent = "audio"
	ParentShot        Parent = "shot"
)

// Parents lists every top-level category.
var Parents = []Parent{
	ParentSubject, ParentAction, ParentEnvironment, ParentLighting,
	ParentCamera, ParentStyle, ParentTechnical, ParentAudio, ParentShot,
}

// Category is a taxonomy leaf (or a bare parent, used by the context
// matcher whose fields carry no attribute-level detail).
type Category string

const (
	CategorySubject           Category = "subject"
	CategorySubjectIdentity   Category = "subject.identity"
	CategorySubjectAppearance Category = "subject.appearance"
	CategorySubjectCount      Category = "subject.count"

	CategoryAction            Category = "action"
	CategoryActionMovement    Category = "action.movement"
	CategoryActionInteraction Category = "action.interaction"

	CategoryEnvironment         Category = "environment"
	CategoryEnvironmentLocation Category = "environment.location"
	CategoryEnvironmentTime     Category = "environment.time"
	CategoryEnvironmentWeather  Category = "environment.weather"

	CategoryLighting          Category = "lighting"
	CategoryLightingQuality   Category = "lighting.quality"
	CategoryLightingDirection Category = "lighting.direction"
	CategoryLightingTimeOfDay Category = "lighting.timeOfDay"

	CategoryCamera         Category = "camera"
	CategoryCameraMovement Category = "camera.movement"
	CategoryCameraAngle    Category = "camera.angle"
	CategoryCameraLens     Category = "camera.lens"

	CategoryStyle           Category = "style"
	CategoryStyleAesthetic  Category = "style.aesthetic"
	CategoryStyleEra        Category = "style.era"
	CategoryStyleColorGrade Category = "style.colorGrade"

	CategoryTechnical            Category = "technical"
	CategoryTechnicalFrameRate   Category = "technical.frameRate"
	CategoryTechnicalFilmFormat  Category = "technical.filmFormat"
	CategoryTechnicalAspectRatio Category = "technical.aspectRatio"
	CategoryTechnicalResolution  Category = "technical.resolution"
	CategoryTechnicalAperture    Category = "technical.aperture"
	CategoryTechnicalShutter     Category = "technical.shutter"

	CategoryAudio      Category = "audio"
	CategoryAudioMusic Category = "audio.music"
	CategoryAudioSFX   Category = "audio.sfx"

	CategoryShot         Category = "shot"
	CategoryShotFraming  Category = "shot.framing"
	CategoryShotDuration Category = "shot.duration"
)

// Categories lists every known category. Kept in sync with the constants
// above; the taxonomy tests fail if a constant is added without a list entry
// or a Parent case.
var Categories = []Category{
	CategorySubject, CategorySubjectIdentity, CategorySubjectAppearance, CategorySubjectCount,
	CategoryAction, CategoryActionMovement, CategoryActionInteraction,
	CategoryEnvironment, CategoryEnvironmentLocation, CategoryEnvironmentTime, CategoryEnvironmentWeather,
	CategoryLighting, CategoryLightingQuality, CategoryLightingDirection, CategoryLightingTimeOfDay,
	CategoryCamera, CategoryCameraMovement, CategoryCameraAngle, CategoryCameraLens,
	CategoryStyle, CategoryStyleAesthetic, CategoryStyleEra, CategoryStyleColorGrade,
	CategoryTechnical, CategoryTechnicalFrameRate, CategoryTechnicalFilmFormat,
	CategoryTechnicalAspectRatio, CategoryTechnicalResolution, CategoryTechnicalAperture, CategoryTechnicalShutter,
	CategoryAudio, CategoryAudioMusic, CategoryAudioSFX,
	CategoryShot, CategoryShotFraming, CategoryShotDuration,
}

// DefaultParent is where unknown categories land. Model adapters return
// free-text categories; anything unmapped degrades to Style rather than
// being dropped, with a warning so the lexicon map can be extended.
const DefaultParent = ParentStyle

// ParentOf returns the parent for a known category.
func ParentOf(c Category) (Parent, bool) {
	switch c {
	case CategorySubject, CategorySubjectIdentity, CategorySubjectAppearance, CategorySubjectCount:
		return ParentSubject, true
	case CategoryAction, CategoryActionMovement, CategoryActionInteraction:
		return ParentAction, true
	case CategoryEnvironment, CategoryEnvironmentLocation, CategoryEnvironmentTime, CategoryEnvironmentWeather:
		return ParentEnvironment, true
	case CategoryLighting, CategoryLightingQuality, CategoryLightingDirection, CategoryLightingTimeOfDay:
		return ParentLighting, true
	case CategoryCamera, CategoryCameraMovement, CategoryCameraAngle, CategoryCameraLens:
		return ParentCamera, true
	case CategoryStyle, CategoryStyleAesthetic, CategoryStyleEra, CategoryStyleColorGrade:
		return ParentStyle, true
	case CategoryTechnical, CategoryTechnicalFrameRate, CategoryTechnicalFilmFormat,
		CategoryTechnicalAspectRatio, CategoryTechnicalResolution, CategoryTechnicalAperture, CategoryTechnicalShutter:
		return ParentTechnical, true
	case CategoryAudio, CategoryAudioMusic, CategoryAudioSFX:
		return ParentAudio, true
	case CategoryShot, CategoryShotFraming, CategoryShotDuration:
		return ParentShot, true
	default:
		return "", false
	}
}

// ParentOrDefault resolves a category's parent, falling back to
// DefaultParent with a warning for categories outside the taxonomy.
func ParentOrDefault(c Category) Parent {
	if p, ok := ParentOf(c); ok {
		return p
	}
	fmt.Fprintf(os.Stderr, "Warning: unmapped taxonomy category %q, defaulting to %s\n", c, DefaultParent)
	return DefaultParent
}

// Known reports whether c is part of the taxonomy.
func Known(c Category) bool {
	_, ok := ParentOf(c)
	return ok
}
