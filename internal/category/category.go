/**
 * @description
 * Spend categorization for the analytics pipeline. The primary signal is the
 * transaction's merchant category code (MCC); when the code is unknown the
 * description is matched against per-category keyword lists.
 *
 * @notes
 * - Keyword matching iterates categories in a fixed order so that a
 *   description matching several lists always resolves the same way.
 * - Keywords target the Russian-language sandbox banks; matching is
 *   case-insensitive substring search.
 */

package category

import "strings"

// Category is a spending category assigned to a transaction.
type Category string

const (
	Groceries      Category = "groceries"
	Restaurants    Category = "restaurants"
	Transport      Category = "transport"
	Clothing       Category = "clothing"
	Health         Category = "health"
	Entertainment  Category = "entertainment"
	Travel         Category = "travel"
	Sports         Category = "sports"
	Beauty         Category = "beauty"
	Utilities      Category = "utilities"
	Communications Category = "communications"
	Education      Category = "education"
	Children       Category = "children"
	Home           Category = "home"
	Transfers      Category = "transfers"
	Other          Category = "other"
)

var mccTable = map[string]Category{
	"5411": Groceries, "5412": Groceries, "5422": Groceries, "5441": Groceries,
	"5451": Groceries, "5462": Groceries, "5499": Groceries,

	"5812": Restaurants, "5813": Restaurants, "5814": Restaurants,

	"4121": Transport, "4131": Transport, "4784": Transport, "5541": Transport,
	"5542": Transport, "5551": Transport, "5561": Transport, "5571": Transport,
	"5599": Transport,

	"5611": Clothing, "5621": Clothing, "5631": Clothing, "5641": Clothing,
	"5651": Clothing, "5655": Clothing, "5661": Clothing, "5681": Clothing,
	"5691": Clothing, "5697": Clothing, "5698": Clothing, "5699": Clothing,

	"5912": Health, "5975": Health, "5976": Health, "8011": Health,
	"8021": Health, "8031": Health, "8041": Health, "8042": Health,
	"8043": Health, "8049": Health, "8050": Health, "8062": Health,
	"8071": Health,

	"7832": Entertainment, "7841": Entertainment, "7922": Entertainment,
	"7929": Entertainment, "7932": Entertainment, "7933": Entertainment,
	"7991": Entertainment, "7992": Entertainment, "7993": Entertainment,
	"7994": Entertainment, "7995": Entertainment, "7996": Entertainment,
	"7999": Entertainment,

	"3000": Travel, "3001": Travel, "3002": Travel, "3003": Travel,
	"3004": Travel, "3005": Travel, "3006": Travel, "3007": Travel,
	"3008": Travel, "3009": Travel, "3010": Travel, "3011": Travel,
	"4511": Travel, "4722": Travel, "7011": Travel, "7012": Travel,

	"5941": Sports, "5996": Sports, "7941": Sports, "7997": Sports,
	"7998": Sports,

	"5977": Beauty, "7230": Beauty, "7297": Beauty, "7298": Beauty,

	"4814": Utilities, "4899": Utilities, "4900": Utilities,

	"5942": Children, "5943": Children, "5944": Children, "5945": Children,

	"5200": Home, "5211": Home, "5231": Home, "5251": Home, "5261": Home,
	"5712": Home, "5713": Home, "5714": Home, "5718": Home,

	"8211": Education, "8220": Education, "8241": Education, "8244": Education,
	"8249": Education, "8299": Education,
}

// keywordOrder fixes the iteration order of the fallback lists: the first
// matching category wins.
var keywordOrder = []Category{Groceries, Restaurants, Transport, Utilities, Transfers}

var keywords = map[Category][]string{
	Groceries:   {"магазин", "магнит", "пятёрочка", "перекрёсток", "ашан", "лента", "дикси"},
	Restaurants: {"ресторан", "кафе", "макдональдс", "kfc", "бургер", "пицца", "суши", "якитория", "starbucks"},
	Transport:   {"метро", "такси", "uber", "яндекс.такси", "бензин", "азс", "парковка", "транспорт"},
	Utilities:   {"жкх", "электричество", "газ", "вода", "интернет", "мобильная связь", "связь"},
	Transfers:   {"перевод", "transfer", "п2п", "p2p"},
}

// DisplayNames maps categories to their user-facing Russian names.
var DisplayNames = map[Category]string{
	Groceries:      "Продукты и супермаркеты",
	Restaurants:    "Рестораны и кафе",
	Transport:      "Транспорт",
	Clothing:       "Одежда и обувь",
	Health:         "Здоровье и аптеки",
	Entertainment:  "Развлечения",
	Travel:         "Путешествия и отели",
	Sports:         "Спорт и фитнес",
	Beauty:         "Красота и уход",
	Utilities:      "ЖКХ и связь",
	Communications: "Связь и интернет",
	Education:      "Образование",
	Children:       "Дети",
	Home:           "Дом и ремонт",
	Transfers:      "Переводы",
	Other:          "Прочее",
}

// DisplayName returns the user-facing name for c, falling back to the raw
// category value.
func DisplayName(c Category) string {
	if name, ok := DisplayNames[c]; ok {
		return name
	}
	return string(c)
}

// Categorize classifies a transaction. MCC lookup first, then keyword
// matching on the description, then Other.
func Categorize(mccCode, description string) Category {
	if mccCode != "" {
		if cat, ok := mccTable[mccCode]; ok {
			return cat
		}
	}

	lower := strings.ToLower(description)
	for _, cat := range keywordOrder {
		for _, keyword := range keywords[cat] {
			if strings.Contains(lower, keyword) {
				return cat
			}
		}
	}

	return Other
}
