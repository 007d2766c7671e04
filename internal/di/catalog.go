package di

import (
	"github.com/alpacahq/streamarchive/catalog"
	"github.com/alpacahq/streamarchive/utils/log"
)

func (c *Container) GetCatalog() *catalog.Catalog {
	if c.catalog != nil {
		return c.catalog
	}

	cat, err := catalog.Open(c.GetAbsRootDir())
	if err != nil {
		log.Error("Could not open the recording catalog: %s.", err.Error())
		panic(err)
	}

	c.catalog = cat
	return c.catalog
}
