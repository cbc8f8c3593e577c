package ios

import (
	"sort"

	"mobilecontrol/models"
)

func sortApps(apps []models.App) {
	sort.Slice(apps, func(i, j int) bool {
		return apps[i].PackageName < apps[j].PackageName
	})
}
