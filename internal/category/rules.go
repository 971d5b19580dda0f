package category

import "strings"

// Rule maps a predicate over normalized text to a label.
type Rule struct {
	Name  string
	Label Category
	Match func(Text) bool
}

// Keywords builds a predicate matching any of the given keywords.
//
// A keyword is matched as a whole token; a trailing "*" turns it into a token
// prefix ("концерт*" matches "концерты"). Keywords with several words match as
// a phrase of whole tokens. Keywords are normalized the same way as the input.
func Keywords(words ...string) func(Text) bool {
	var exact, prefixes, phrases []string
	for _, w := range words {
		prefix := strings.HasSuffix(w, "*")
		toks := tokenize(strings.TrimSuffix(w, "*"))
		switch {
		case len(toks) == 0:
			continue
		case len(toks) > 1:
			phrases = append(phrases, " "+strings.Join(toks, " ")+" ")
		case prefix:
			prefixes = append(prefixes, toks[0])
		default:
			exact = append(exact, toks[0])
		}
	}

	return func(t Text) bool {
		for _, tok := range t.tokens {
			for _, e := range exact {
				if tok == e {
					return true
				}
			}
			for _, p := range prefixes {
				if strings.HasPrefix(tok, p) {
					return true
				}
			}
		}
		for _, p := range phrases {
			if strings.Contains(t.phrase, p) {
				return true
			}
		}
		return false
	}
}

// DefaultRules returns the built-in rule list. Multilingual keyword sets
// (English, Estonian, Russian) come first, then single-language predicates.
// Reordering this list changes classification results.
func DefaultRules() []Rule {
	return []Rule{
		// multilingual
		{Name: "multi/festival", Label: Festival, Match: Keywords(
			"festival*", "fest", "festivaal*", "фестивал*", "фест")},
		{Name: "multi/music", Label: Music, Match: Keywords(
			"concert*", "gig", "live music", "jazz", "orchestra*", "choir*", "band", "dj set",
			"kontsert*", "kontserdi*", "muusika*", "koor*", "orkest*",
			"концерт*", "музык*", "хор", "оркестр*", "джаз")},
		{Name: "multi/theatre", Label: Theatre, Match: Keywords(
			"theatre*", "theater*", "musical", "ballet", "opera", "stand up", "standup", "comedy",
			"teater*", "teatri*", "etendus*", "ooper*", "ballett*",
			"театр*", "спектакл*", "балет*", "опера", "комеди*")},
		{Name: "multi/cinema", Label: Cinema, Match: Keywords(
			"cinema", "film*", "movie*", "screening*",
			"kino*", "filmi*",
			"кино*", "фильм*")},
		{Name: "multi/sports", Label: Sports, Match: Keywords(
			"marathon*", "football", "soccer", "basketball", "volleyball", "hockey", "tournament*", "race", "run",
			"maraton*", "jooks*", "voistlus*", "turniir*", "jalgpall*", "korvpall*",
			"спорт*", "марафон*", "турнир*", "футбол*", "баскетбол*", "забег*")},
		{Name: "multi/food", Label: Food, Match: Keywords(
			"food", "dinner", "tasting", "brunch", "wine", "beer", "street food", "cooking",
			"toit*", "ohtusook*", "degusteerimin*", "vein*", "olu",
			"еда", "дегустац*", "ужин*", "вино", "пиво", "кулинар*")},
		{Name: "multi/nightlife", Label: Nightlife, Match: Keywords(
			"party", "club", "clubbing", "rave", "nightlife",
			"pidu", "peod", "klubi*",
			"вечеринк*", "клуб*", "дискотек*")},
		{Name: "multi/education", Label: Education, Match: Keywords(
			"workshop*", "lecture*", "course", "seminar*", "class", "masterclass", "webinar*",
			"tootuba", "tootoa*", "loeng*", "koolitus*", "kursus*",
			"мастер класс", "лекци*", "семинар*", "курс*", "вебинар*")},
		{Name: "multi/business", Label: Business, Match: Keywords(
			"conference*", "meetup*", "networking", "startup*", "summit", "expo",
			"konverents*", "ettevotlus*", "foorum*",
			"конференц*", "нетворкинг*", "стартап*", "форум*")},

		// English
		{Name: "en/technology", Label: Technology, Match: Keywords(
			"hackathon*", "tech", "technology", "developer*", "coding", "programming", "ai", "blockchain", "robotics")},
		{Name: "en/arts", Label: Arts, Match: Keywords(
			"exhibition*", "gallery", "museum*", "art", "arts", "painting*", "sculpture*", "photography")},
		{Name: "en/health", Label: Health, Match: Keywords(
			"yoga", "meditation", "fitness", "wellness", "pilates", "mindfulness", "health")},
		{Name: "en/family", Label: Family, Match: Keywords(
			"kids", "children", "family", "families", "toddler*", "playground")},
		{Name: "en/outdoor", Label: Outdoor, Match: Keywords(
			"hike", "hiking", "nature", "picnic", "camping", "bog walk", "kayak*", "cycling")},
		{Name: "en/market", Label: Market, Match: Keywords(
			"market", "fair", "flea", "bazaar", "christmas market")},
		{Name: "en/community", Label: Community, Match: Keywords(
			"volunteer*", "charity", "neighbourhood", "neighborhood", "community", "cleanup", "talgud")},

		// Estonian
		{Name: "et/technology", Label: Technology, Match: Keywords(
			"tehnoloogia*", "programmeerimi*", "haka*", "arendaja*")},
		{Name: "et/arts", Label: Arts, Match: Keywords(
			"naitus*", "galerii*", "muuseum*", "kunst*")},
		{Name: "et/health", Label: Health, Match: Keywords(
			"jooga*", "meditatsioon*", "tervis*")},
		{Name: "et/family", Label: Family, Match: Keywords(
			"laste*", "lastele", "pere*", "lapsed")},
		{Name: "et/outdoor", Label: Outdoor, Match: Keywords(
			"matk*", "loodus*", "raba*", "piknik*")},
		{Name: "et/market", Label: Market, Match: Keywords(
			"laat", "laada*", "turg", "turu*")},
		{Name: "et/community", Label: Community, Match: Keywords(
			"kogukon*", "vabatahtli*", "heategev*")},

		// Russian
		{Name: "ru/technology", Label: Technology, Match: Keywords(
			"хакатон*", "технолог*", "программирован*", "разработчик*")},
		{Name: "ru/arts", Label: Arts, Match: Keywords(
			"выставк*", "галере*", "музе*", "искусств*")},
		{Name: "ru/health", Label: Health, Match: Keywords(
			"йога*", "медитац*", "здоров*")},
		{Name: "ru/family", Label: Family, Match: Keywords(
			"дет*", "семейн*")},
		{Name: "ru/outdoor", Label: Outdoor, Match: Keywords(
			"поход*", "природ*", "пикник*")},
		{Name: "ru/market", Label: Market, Match: Keywords(
			"ярмарк*", "рынок", "барахолк*")},
		{Name: "ru/community", Label: Community, Match: Keywords(
			"волонтер*", "благотворит*", "субботник*")},
	}
}
